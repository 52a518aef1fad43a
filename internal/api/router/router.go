package router

import (
	"context"
	"errors"
	"strconv"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/hertz-contrib/keyauth"

	"resume-pipeline-go/internal/api/handler"
	"resume-pipeline-go/internal/logger"
)

// RegisterRoutes 注册API路由：公开入件面 + keyauth保护的内部任务回调
func RegisterRoutes(h *server.Hertz, caseHandler *handler.CaseHandler, internalAuthKey string) {
	api := h.Group("/api/v1")

	api.POST("/cases", func(c context.Context, ctx *app.RequestContext) {
		var req handler.CreateCaseRequest
		if err := ctx.BindJSON(&req); err != nil {
			ctx.JSON(consts.StatusBadRequest, utils.H{"error": "请求体不是合法JSON"})
			return
		}
		resp, err := caseHandler.HandleCreateCase(c, &req)
		if err != nil {
			writeError(ctx, err)
			return
		}
		ctx.JSON(consts.StatusCreated, resp)
	})

	api.POST("/cases/:caseId/uploads", func(c context.Context, ctx *app.RequestContext) {
		var req handler.RequestUploadsRequest
		if err := ctx.BindJSON(&req); err != nil {
			ctx.JSON(consts.StatusBadRequest, utils.H{"error": "请求体不是合法JSON"})
			return
		}
		slots, err := caseHandler.HandleRequestUploads(c, ctx.Param("caseId"), &req)
		if err != nil {
			writeError(ctx, err)
			return
		}
		ctx.JSON(consts.StatusOK, utils.H{"uploads": slots})
	})

	api.POST("/cases/:caseId/process", func(c context.Context, ctx *app.RequestContext) {
		resp, err := caseHandler.HandleStartProcessing(c, ctx.Param("caseId"))
		if err != nil {
			writeError(ctx, err)
			return
		}
		ctx.JSON(consts.StatusAccepted, resp)
	})

	api.GET("/cases", func(c context.Context, ctx *app.RequestContext) {
		limit, _ := strconv.Atoi(ctx.Query("limit"))
		offset, _ := strconv.Atoi(ctx.Query("offset"))
		resp, err := caseHandler.HandleListCases(c, limit, offset)
		if err != nil {
			writeError(ctx, err)
			return
		}
		ctx.JSON(consts.StatusOK, resp)
	})

	api.GET("/cases/:caseId", func(c context.Context, ctx *app.RequestContext) {
		resp, err := caseHandler.HandleGetCase(c, ctx.Param("caseId"))
		if err != nil {
			writeError(ctx, err)
			return
		}
		ctx.JSON(consts.StatusOK, resp)
	})

	api.GET("/cases/:caseId/events", func(c context.Context, ctx *app.RequestContext) {
		events, err := caseHandler.HandleListEvents(c, ctx.Param("caseId"))
		if err != nil {
			writeError(ctx, err)
			return
		}
		ctx.JSON(consts.StatusOK, utils.H{"events": events})
	})

	api.GET("/cases/:caseId/artifacts/:artifactId/download", func(c context.Context, ctx *app.RequestContext) {
		resp, err := caseHandler.HandleArtifactDownload(c, ctx.Param("caseId"), ctx.Param("artifactId"))
		if err != nil {
			writeError(ctx, err)
			return
		}
		ctx.JSON(consts.StatusOK, resp)
	})

	api.POST("/cases/:caseId/artifacts", func(c context.Context, ctx *app.RequestContext) {
		var req handler.RequestArtifactRequest
		if err := ctx.BindJSON(&req); err != nil {
			ctx.JSON(consts.StatusBadRequest, utils.H{"error": "请求体不是合法JSON"})
			return
		}
		if err := caseHandler.HandleRequestArtifact(c, ctx.Param("caseId"), &req); err != nil {
			writeError(ctx, err)
			return
		}
		ctx.JSON(consts.StatusAccepted, utils.H{"status": "enqueued"})
	})

	api.GET("/health", func(c context.Context, ctx *app.RequestContext) {
		ctx.JSON(consts.StatusOK, utils.H{"status": "ok"})
	})

	// 内部任务回调：队列的HTTP面，仅供任务分发方回调
	internal := h.Group("/internal/tasks", keyauth.New(
		keyauth.WithKeyLookUp("header:X-Internal-Auth", ""),
		keyauth.WithValidator(func(ctx context.Context, c *app.RequestContext, key string) (bool, error) {
			return key != "" && key == internalAuthKey, nil
		}),
	))

	internal.POST("/process-case", taskEndpoint(caseHandler.HandleProcessCaseTask))
	internal.POST("/extract-document", taskEndpoint(caseHandler.HandleExtractDocumentTask))
	internal.POST("/generate-artifact", taskEndpoint(caseHandler.HandleGenerateArtifactTask))
}

// taskEndpoint 内部任务回调的统一HTTP语义：
// 消息不合法→400（不重试），已落定→200，可重试错误→500（由队列重投）
func taskEndpoint(handle func(ctx context.Context, body []byte) handler.TaskOutcome) app.HandlerFunc {
	return func(c context.Context, ctx *app.RequestContext) {
		outcome := handle(c, ctx.Request.Body())
		switch {
		case outcome.Discarded && !outcome.Settled:
			ctx.JSON(consts.StatusBadRequest, utils.H{"error": outcome.Err.Error()})
		case outcome.Settled:
			resp := utils.H{"outcome": "ok"}
			if outcome.Discarded {
				resp["outcome"] = "discarded"
			}
			ctx.JSON(consts.StatusOK, resp)
		default:
			ctx.JSON(consts.StatusInternalServerError, utils.H{"error": outcome.Err.Error()})
		}
	}
}

func writeError(ctx *app.RequestContext, err error) {
	switch {
	case errors.Is(err, handler.ErrValidation):
		ctx.JSON(consts.StatusBadRequest, utils.H{"error": err.Error()})
	case errors.Is(err, handler.ErrNotFound):
		ctx.JSON(consts.StatusNotFound, utils.H{"error": err.Error()})
	case errors.Is(err, handler.ErrConflict):
		ctx.JSON(consts.StatusConflict, utils.H{"error": err.Error()})
	default:
		logger.Error().Err(err).Msg("请求处理失败")
		ctx.JSON(consts.StatusInternalServerError, utils.H{"error": "内部错误"})
	}
}
