package routes

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tgarchive/internal/metadata"
	"tgarchive/internal/rangeparse"
	"tgarchive/internal/stream"
	"tgarchive/internal/types"
)

// LoadStream registers the main streaming endpoint (C6): GET and HEAD
// /stream/:channelID/:msgID, implementing the status table in spec §4.6.
func (e *allRoutes) LoadStream(r *Route) {
	log := e.log.Named("Stream")
	defer log.Info("Loaded stream route")
	handler := streamHandler(log, e.store, e.engine)
	r.Engine.GET("/stream/:channelID/:msgID", handler)
	r.Engine.HEAD("/stream/:channelID/:msgID", handler)
	r.Engine.OPTIONS("/stream/:channelID/:msgID", func(ctx *gin.Context) {
		applyCORS(ctx)
		ctx.Status(http.StatusNoContent)
	})
}

func applyCORS(ctx *gin.Context) {
	ctx.Header("Access-Control-Allow-Origin", "*")
	ctx.Header("Access-Control-Allow-Methods", "GET, HEAD")
	ctx.Header("Access-Control-Allow-Headers", "Range")
}

func streamHandler(log *zap.Logger, store *metadata.Store, engine *stream.Engine) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		applyCORS(ctx)

		if engine == nil || store == nil {
			ctx.Header("Retry-After", "5")
			ctx.Status(http.StatusServiceUnavailable)
			return
		}

		channelID, err := strconv.ParseInt(ctx.Param("channelID"), 10, 64)
		if err != nil {
			ctx.Status(http.StatusNotFound)
			return
		}
		msgID, err := strconv.ParseInt(ctx.Param("msgID"), 10, 64)
		if err != nil {
			ctx.Status(http.StatusNotFound)
			return
		}

		record, err := store.GetByMsgID(ctx.Request.Context(), channelID, msgID)
		if err != nil {
			if errors.Is(err, metadata.ErrNotFound) {
				ctx.Status(http.StatusNotFound)
				return
			}
			log.Error("metadata lookup failed", zap.Error(err))
			ctx.Status(http.StatusInternalServerError)
			return
		}
		if !record.IsActive {
			ctx.Status(http.StatusNotFound)
			return
		}

		rng, err := rangeparse.Parse(ctx.GetHeader("Range"), record.SizeBytes)
		if err != nil {
			ctx.Header("Content-Range", "bytes */"+strconv.FormatInt(record.SizeBytes, 10))
			ctx.Status(http.StatusRequestedRangeNotSatisfiable)
			return
		}

		ctx.Header("Accept-Ranges", "bytes")
		ctx.Header("Content-Type", contentType(record))
		ctx.Header("Content-Disposition", `inline; filename="`+record.DisplayName+`"`)

		status := http.StatusOK
		if !rng.Full {
			status = http.StatusPartialContent
			ctx.Header("Content-Range", "bytes "+strconv.FormatInt(rng.Start, 10)+"-"+strconv.FormatInt(rng.End, 10)+"/"+strconv.FormatInt(record.SizeBytes, 10))
		}
		ctx.Header("Content-Length", strconv.FormatInt(rng.Want, 10))
		ctx.Status(status)

		if ctx.Request.Method == http.MethodHead {
			// HEAD must not open an upstream stream.
			return
		}

		log.Info("stream request",
			zap.Int64("channelID", channelID), zap.Int64("msgID", msgID),
			zap.Int64("start", rng.Start), zap.Int64("end", rng.End),
			zap.Int64("chunkOffset", rng.ChunkOffset), zap.Int64("headSkip", rng.HeadSkip))

		_, err = engine.Stream(ctx.Request.Context(), channelID, msgID, rng, ctx.Writer)
		if err != nil {
			logStreamOutcome(log, channelID, msgID, err)
			// Headers (and a 200/206 status) are already flushed by the
			// time the engine can fail mid-transfer; the only option
			// left is closing the connection, which returning from the
			// handler after gin has written the status does.
		}
	}
}

func logStreamOutcome(log *zap.Logger, channelID, msgID int64, err error) {
	switch {
	case errors.Is(err, context.Canceled):
		log.Debug("client disconnected", zap.Int64("channelID", channelID), zap.Int64("msgID", msgID))
	default:
		log.Error("stream terminated with error",
			zap.Int64("channelID", channelID), zap.Int64("msgID", msgID), zap.Error(err))
	}
}

func contentType(f types.ArchivedFile) string {
	if f.MimeType != "" {
		return f.MimeType
	}
	switch f.Kind {
	case types.KindVideo:
		return "video/mp4"
	case types.KindAudio:
		return "audio/mpeg"
	default:
		return "application/octet-stream"
	}
}
