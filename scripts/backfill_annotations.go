// 手动触发大纲注解回填脚本
//
// 早期生成的大纲可能缺少 data-title / data-parent 定位属性。
// 注解是幂等的，对已注解的行重跑不会产生变化。
//
// 用法: go run scripts/backfill_annotations.go
package main

import (
	"log"
	"os"

	"studypath_backend/internal/config"
	"studypath_backend/internal/model"
	"studypath_backend/internal/service"
	"studypath_backend/pkg/database"

	"gopkg.in/yaml.v3"
)

func main() {
	data, err := os.ReadFile("configs/config.yaml")
	if err != nil {
		log.Fatalf("无法读取配置文件: %v", err)
	}

	var cfg config.Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		log.Fatalf("解析配置文件失败: %v", err)
	}

	db, err := database.InitDB(&cfg.Database)
	if err != nil {
		log.Fatalf("连接数据库失败: %v", err)
	}

	updated := 0

	var topics []model.Topic
	if err := db.Where("html_outline <> ''").Find(&topics).Error; err != nil {
		log.Fatalf("读取主题失败: %v", err)
	}
	for _, t := range topics {
		annotated, err := service.Annotate(t.HTMLOutline, service.KindOutline)
		if err != nil {
			log.Printf("主题 %d 注解失败: %v", t.ID, err)
			continue
		}
		if annotated == t.HTMLOutline {
			continue
		}
		if err := db.Model(&model.Topic{}).Where("id = ?", t.ID).
			Update("html_outline", annotated).Error; err != nil {
			log.Printf("主题 %d 更新失败: %v", t.ID, err)
			continue
		}
		updated++
	}

	var subs []model.Subtopic
	if err := db.Where("html_content <> ''").Find(&subs).Error; err != nil {
		log.Fatalf("读取章节失败: %v", err)
	}
	for _, s := range subs {
		annotated, err := service.Annotate(s.HTMLContent, service.KindSubOutline)
		if err != nil {
			log.Printf("章节 %d 注解失败: %v", s.ID, err)
			continue
		}
		if annotated == s.HTMLContent {
			continue
		}
		if err := db.Model(&model.Subtopic{}).Where("id = ?", s.ID).
			Update("html_content", annotated).Error; err != nil {
			log.Printf("章节 %d 更新失败: %v", s.ID, err)
			continue
		}
		updated++
	}

	log.Printf("注解回填完成，共更新 %d 行", updated)
}
