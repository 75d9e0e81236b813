// @title StudyPath 后端 API
// @version 1.0
// @description StudyPath 渐进式学习内容生成服务：输入一个主题，按需生成大纲、章节、笔记、测验和追问解答。
// @termsOfService http://swagger.io/terms/

// @contact.name API支持
// @contact.url http://www.swagger.io/support
// @contact.email support@swagger.io

// @license.name Apache 2.0
// @license.url http://www.apache.org/licenses/LICENSE-2.0.html

// @host localhost:8080
// @BasePath /api
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

package main

import (
	"flag"
	"log"

	"studypath_backend/internal/app"
	"studypath_backend/internal/config"
)

func main() {
	configPath := flag.String("config", "configs", "配置文件目录")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	application := app.NewApp(cfg, *configPath)
	application.Run()
}
