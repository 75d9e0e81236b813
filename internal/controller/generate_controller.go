package controller

import (
	"errors"
	"net/http"

	"studypath_backend/internal/service"
	"studypath_backend/internal/util"
	"studypath_backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// GenerateController 五个流式生成端点。响应体是纯文本增量；
// 在开流之前失败返回 JSON {error, details}，开流之后只能断流。
type GenerateController struct {
	Tree *service.TreeService
}

func NewGenerateController(tree *service.TreeService) *GenerateController {
	return &GenerateController{Tree: tree}
}

type OutlineRequest struct {
	Action string `json:"action"`
	Topic  string `json:"topic" binding:"required"`
}

// Outline godoc
// @Summary 生成主题学习大纲
// @Description 流式返回大纲 HTML；已生成过的直接返回缓存内容
// @Tags 生成
// @Accept  json
// @Produce  plain
// @Security BearerAuth
// @Param   regenerate query bool false "强制重新生成"
// @Param   body body OutlineRequest true "主题"
// @Success 200 {string} string "HTML 增量流"
// @Failure 400 {object} util.StreamErrorBody
// @Failure 500 {object} util.StreamErrorBody
// @Router /api/generate/outline [post]
func (c *GenerateController) Outline(ctx *gin.Context) {
	var req OutlineRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.StreamError(ctx, http.StatusBadRequest, "invalid request", err.Error())
		return
	}
	userID := util.GetUserFromContext(ctx).UserID
	regenerate := ctx.Query("regenerate") == "true"

	c.stream(ctx, func(emit service.EmitFunc) error {
		return c.Tree.OpenTopic(ctx.Request.Context(), userID, req.Topic, regenerate, emit)
	})
}

type SubOutlineRequest struct {
	Action    string `json:"action"`
	Subtopic  string `json:"subtopic" binding:"required"`  // 被点击的章节标题
	MainTopic string `json:"mainTopic" binding:"required"` // 所属主题标题
}

// SubOutline godoc
// @Summary 展开章节，生成小主题列表
// @Tags 生成
// @Accept  json
// @Produce  plain
// @Security BearerAuth
// @Param   regenerate query bool false "强制重新生成"
// @Param   body body SubOutlineRequest true "章节定位"
// @Success 200 {string} string "HTML 增量流"
// @Failure 400 {object} util.StreamErrorBody
// @Failure 404 {object} util.StreamErrorBody "主题尚未生成"
// @Router /api/generate/subOutline [post]
func (c *GenerateController) SubOutline(ctx *gin.Context) {
	var req SubOutlineRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.StreamError(ctx, http.StatusBadRequest, "invalid request", err.Error())
		return
	}
	userID := util.GetUserFromContext(ctx).UserID
	regenerate := ctx.Query("regenerate") == "true"

	c.stream(ctx, func(emit service.EmitFunc) error {
		return c.Tree.OpenSection(ctx.Request.Context(), userID, req.MainTopic, req.Subtopic, regenerate, emit)
	})
}

type NotesRequest struct {
	Title        string `json:"title" binding:"required"` // 主题标题
	SectionTitle string `json:"sectionTitle" binding:"required"`
	Subtopic     string `json:"subtopic" binding:"required"`
}

// Notes godoc
// @Summary 生成小主题的学习笔记
// @Tags 生成
// @Accept  json
// @Produce  plain
// @Security BearerAuth
// @Param   regenerate query bool false "强制重新生成"
// @Param   body body NotesRequest true "小主题定位"
// @Success 200 {string} string "HTML 增量流"
// @Failure 400 {object} util.StreamErrorBody
// @Failure 404 {object} util.StreamErrorBody "上级节点尚未生成"
// @Router /api/generate/notes [post]
func (c *GenerateController) Notes(ctx *gin.Context) {
	var req NotesRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.StreamError(ctx, http.StatusBadRequest, "invalid request", err.Error())
		return
	}
	userID := util.GetUserFromContext(ctx).UserID
	regenerate := ctx.Query("regenerate") == "true"

	c.stream(ctx, func(emit service.EmitFunc) error {
		return c.Tree.OpenSubtopic(ctx.Request.Context(), userID, req.Title, req.SectionTitle, req.Subtopic, regenerate, emit)
	})
}

// Quiz godoc
// @Summary 生成小主题笔记的测验
// @Tags 生成
// @Accept  json
// @Produce  plain
// @Security BearerAuth
// @Param   regenerate query bool false "重新出一份测验"
// @Param   body body NotesRequest true "小主题定位"
// @Success 200 {string} string "HTML 增量流"
// @Failure 400 {object} util.StreamErrorBody
// @Failure 404 {object} util.StreamErrorBody "笔记尚未生成"
// @Router /api/generate/quiz [post]
func (c *GenerateController) Quiz(ctx *gin.Context) {
	var req NotesRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.StreamError(ctx, http.StatusBadRequest, "invalid request", err.Error())
		return
	}
	userID := util.GetUserFromContext(ctx).UserID
	regenerate := ctx.Query("regenerate") == "true"

	note, err := c.Tree.ResolveNoteByTitles(userID, req.Title, req.SectionTitle, req.Subtopic)
	if err != nil {
		c.writeError(ctx, err)
		return
	}

	c.stream(ctx, func(emit service.EmitFunc) error {
		return c.Tree.GenerateQuiz(ctx.Request.Context(), userID, note.ID, regenerate, emit)
	})
}

type DiveDeeperRequest struct {
	TopicChain string `json:"topicChain" binding:"required"` // 形如 "主题 > 章节 > 小主题"
	Question   string `json:"followUpQuestion" binding:"required"`
}

// DiveDeeper godoc
// @Summary 对笔记内容追问
// @Description 每次追问都生成一次新回答并追加到笔记的问答记录
// @Tags 生成
// @Accept  json
// @Produce  plain
// @Security BearerAuth
// @Param   body body DiveDeeperRequest true "标题链和问题"
// @Success 200 {string} string "HTML 增量流"
// @Failure 400 {object} util.StreamErrorBody
// @Failure 404 {object} util.StreamErrorBody "标题链无法定位到笔记"
// @Router /api/generate/diveDeeper [post]
func (c *GenerateController) DiveDeeper(ctx *gin.Context) {
	var req DiveDeeperRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.StreamError(ctx, http.StatusBadRequest, "invalid request", err.Error())
		return
	}
	userID := util.GetUserFromContext(ctx).UserID

	c.stream(ctx, func(emit service.EmitFunc) error {
		return c.Tree.AskFollowUp(ctx.Request.Context(), userID, req.TopicChain, req.Question, emit)
	})
}

// stream 执行一次生成并渐进写出。响应头推迟到第一段内容才发，
// 这样开流之前的错误还能用 JSON 返回。
func (c *GenerateController) stream(ctx *gin.Context, run func(emit service.EmitFunc) error) {
	started := false
	emit := func(chunk string) error {
		if !started {
			ctx.Header("Content-Type", "text/event-stream")
			ctx.Header("Cache-Control", "no-cache")
			ctx.Header("Connection", "keep-alive")
			ctx.Header("Transfer-Encoding", "chunked")
			started = true
		}
		if _, err := ctx.Writer.WriteString(chunk); err != nil {
			return err
		}
		ctx.Writer.Flush()
		return nil
	}

	if err := run(emit); err != nil {
		if started {
			// 响应头已经发出，只能断流并记录
			logger.Log.Warn("content stream interrupted",
				zap.String("path", ctx.FullPath()), zap.Error(err))
			return
		}
		c.writeError(ctx, err)
	}
}

func (c *GenerateController) writeError(ctx *gin.Context, err error) {
	var upstream *util.UpstreamError
	switch {
	case errors.Is(err, util.ErrMissingAPIKey):
		util.StreamError(ctx, http.StatusInternalServerError, "model api key is not configured", "")
	case errors.Is(err, util.ErrNodeNotFound):
		util.StreamError(ctx, http.StatusNotFound, "content node not found", "")
	case errors.Is(err, util.ErrGenerationAborted):
		// 客户端已断开，没有人在等响应
	case errors.As(err, &upstream):
		util.StreamError(ctx, upstream.Status, "upstream model error", upstream.Body)
	default:
		logger.Log.Error("content generation failed",
			zap.String("path", ctx.FullPath()), zap.Error(err))
		util.StreamError(ctx, http.StatusInternalServerError, "generation failed", err.Error())
	}
}
