package controller

import (
	"errors"
	"strconv"

	"studypath_backend/internal/service"
	"studypath_backend/internal/util"

	"github.com/gin-gonic/gin"
)

// TopicController 内容树的只读视图和进度类操作，给仪表盘用
type TopicController struct {
	Tree *service.TreeService
}

func NewTopicController(tree *service.TreeService) *TopicController {
	return &TopicController{Tree: tree}
}

// ListTopics godoc
// @Summary 当前用户的主题列表
// @Description 按最近访问排序，含进度和累计学习时长
// @Tags 内容树
// @Produce  json
// @Security BearerAuth
// @Success 200 {object} util.Response{data=[]model.Topic}
// @Router /api/topics [get]
func (c *TopicController) ListTopics(ctx *gin.Context) {
	userID := util.GetUserFromContext(ctx).UserID
	topics, err := c.Tree.ListTopics(userID)
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.Success(ctx, topics)
}

// GetTopic godoc
// @Summary 主题详情（含大纲 HTML）
// @Tags 内容树
// @Produce  json
// @Security BearerAuth
// @Param   id path int true "主题 ID"
// @Success 200 {object} util.Response{data=model.Topic}
// @Failure 404 {object} util.Response
// @Router /api/topics/{id} [get]
func (c *TopicController) GetTopic(ctx *gin.Context) {
	userID := util.GetUserFromContext(ctx).UserID
	id, ok := pathID(ctx)
	if !ok {
		return
	}

	topic, err := c.Tree.GetTopic(userID, id)
	if err != nil {
		c.notFoundOrInternal(ctx, err)
		return
	}
	util.Success(ctx, topic)
}

// ListSubtopics godoc
// @Summary 主题下已生成的章节
// @Tags 内容树
// @Produce  json
// @Security BearerAuth
// @Param   id path int true "主题 ID"
// @Success 200 {object} util.Response{data=[]model.Subtopic}
// @Failure 404 {object} util.Response
// @Router /api/topics/{id}/subtopics [get]
func (c *TopicController) ListSubtopics(ctx *gin.Context) {
	userID := util.GetUserFromContext(ctx).UserID
	id, ok := pathID(ctx)
	if !ok {
		return
	}

	subs, err := c.Tree.ListSubtopics(userID, id)
	if err != nil {
		c.notFoundOrInternal(ctx, err)
		return
	}
	util.Success(ctx, subs)
}

// ListNotes godoc
// @Summary 章节下已生成的笔记
// @Tags 内容树
// @Produce  json
// @Security BearerAuth
// @Param   id path int true "章节 ID"
// @Success 200 {object} util.Response{data=[]model.Note}
// @Failure 404 {object} util.Response
// @Router /api/subtopics/{id}/notes [get]
func (c *TopicController) ListNotes(ctx *gin.Context) {
	userID := util.GetUserFromContext(ctx).UserID
	id, ok := pathID(ctx)
	if !ok {
		return
	}

	notes, err := c.Tree.ListNotes(userID, id)
	if err != nil {
		c.notFoundOrInternal(ctx, err)
		return
	}
	util.Success(ctx, notes)
}

// ListDiveDeeper godoc
// @Summary 笔记下的追问记录
// @Tags 内容树
// @Produce  json
// @Security BearerAuth
// @Param   id path int true "笔记 ID"
// @Success 200 {object} util.Response{data=[]model.DiveDeeper}
// @Failure 404 {object} util.Response
// @Router /api/notes/{id}/dive-deeper [get]
func (c *TopicController) ListDiveDeeper(ctx *gin.Context) {
	userID := util.GetUserFromContext(ctx).UserID
	id, ok := pathID(ctx)
	if !ok {
		return
	}

	items, err := c.Tree.ListDiveDeeper(userID, id)
	if err != nil {
		c.notFoundOrInternal(ctx, err)
		return
	}
	util.Success(ctx, items)
}

type StudyTimeRequest struct {
	Minutes int `json:"minutes" binding:"required,min=1,max=1440"`
}

// AddStudyTime godoc
// @Summary 累加主题学习时长
// @Tags 内容树
// @Accept  json
// @Produce  json
// @Security BearerAuth
// @Param   id path int true "主题 ID"
// @Param   body body StudyTimeRequest true "本次学习的分钟数"
// @Success 200 {object} util.Response
// @Failure 404 {object} util.Response
// @Router /api/topics/{id}/study-time [post]
func (c *TopicController) AddStudyTime(ctx *gin.Context) {
	userID := util.GetUserFromContext(ctx).UserID
	id, ok := pathID(ctx)
	if !ok {
		return
	}

	var req StudyTimeRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	if err := c.Tree.AddStudyTime(userID, id, req.Minutes); err != nil {
		c.notFoundOrInternal(ctx, err)
		return
	}
	util.Success(ctx, nil)
}

type QuizScoreRequest struct {
	// 题目序号 -> 所选选项序号，均按文档顺序从 0 计
	Selected map[int]int `json:"selected" binding:"required"`
}

// SubmitQuizScore godoc
// @Summary 提交测验答案并判分
// @Description 对笔记最新一份测验按 data-correct 标记服务端判分
// @Tags 内容树
// @Accept  json
// @Produce  json
// @Security BearerAuth
// @Param   id path int true "笔记 ID"
// @Param   body body QuizScoreRequest true "所选答案"
// @Success 200 {object} util.Response{data=object} "correct/total/score"
// @Failure 404 {object} util.Response
// @Router /api/notes/{id}/quiz/score [post]
func (c *TopicController) SubmitQuizScore(ctx *gin.Context) {
	userID := util.GetUserFromContext(ctx).UserID
	id, ok := pathID(ctx)
	if !ok {
		return
	}

	var req QuizScoreRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, err.Error())
		return
	}

	correct, total, score, err := c.Tree.SubmitQuizScore(userID, id, req.Selected)
	if err != nil {
		if errors.Is(err, service.ErrEmptyQuiz) {
			util.BadRequest(ctx, err.Error())
			return
		}
		c.notFoundOrInternal(ctx, err)
		return
	}

	util.Success(ctx, gin.H{
		"correct": correct,
		"total":   total,
		"score":   score,
	})
}

func (c *TopicController) notFoundOrInternal(ctx *gin.Context, err error) {
	if errors.Is(err, util.ErrNodeNotFound) {
		util.NotFound(ctx)
		return
	}
	util.LogInternalError(ctx, err)
}

func pathID(ctx *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 64)
	if err != nil {
		util.BadRequest(ctx, "invalid id")
		return 0, false
	}
	return uint(id), true
}
