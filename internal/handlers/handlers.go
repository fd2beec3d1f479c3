package handlers

import (
	"errors"
	"io"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"

	"github.com/example/facegate/internal/auth"
	"github.com/example/facegate/internal/capture"
	"github.com/example/facegate/internal/normalize"
	"github.com/example/facegate/internal/pipeline"
)

// MaxUploadSize limits captured image uploads.
const MaxUploadSize = 8 << 20

var allowedContentTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, pipe *pipeline.Pipeline, streamer *capture.Streamer, authMiddleware gin.HandlerFunc) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "state": pipe.State().String()})
	})

	authed := router.Group("/", authMiddleware)

	authed.POST("/capture", func(c *gin.Context) {
		file, err := c.FormFile("image")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "image file is required"})
			return
		}

		if file.Size > MaxUploadSize {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image exceeds upload limit"})
			return
		}

		if ct := file.Header.Get("Content-Type"); !allowedContentTypes[ct] {
			c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "unsupported image content type"})
			return
		}

		src, err := file.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unable to open image"})
			return
		}
		defer src.Close()

		tmp, err := os.CreateTemp("", "facegate_upload_*.jpg")
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to stage image"})
			return
		}
		tmpPath := tmp.Name()
		defer os.Remove(tmpPath)
		// The face crop written next to the staged file is transient on
		// the failure path too.
		defer os.Remove(normalize.CroppedPath(tmpPath))

		if _, err := io.Copy(tmp, src); err != nil {
			tmp.Close()
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read image"})
			return
		}
		if err := tmp.Close(); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to stage image"})
			return
		}

		outcome, err := pipe.ProcessFile(c.Request.Context(), tmpPath, "upload")
		if err != nil {
			writeFailure(c, err)
			return
		}

		userID, _ := auth.GetUserID(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{
			"request_id":   outcome.RequestID,
			"message":      outcome.Message,
			"face":         outcome.FaceBox,
			"submitted_by": userID,
		})
	})

	authed.GET("/result/:id", func(c *gin.Context) {
		requestID := c.Param("id")
		if requestID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "id is required"})
			return
		}

		submission, err := pipe.GetResult(c.Request.Context(), requestID)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "result not found"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"request_id": submission.RequestID,
			"origin":     submission.Origin,
			"success":    submission.Success,
			"message":    submission.Message,
			"face": gin.H{
				"left":   submission.FaceLeft,
				"top":    submission.FaceTop,
				"width":  submission.FaceWidth,
				"height": submission.FaceHeight,
			},
			"duplicate_submissions": pipe.DuplicateCount(c.Request.Context(), submission),
			"created_at":            submission.CreatedAt,
		})
	})

	authed.POST("/stream/start", func(c *gin.Context) {
		if streamer.Running() {
			c.JSON(http.StatusConflict, gin.H{"error": "stream already running"})
			return
		}

		ack, err := pipe.StartStream(c.Request.Context())
		if err != nil {
			writeFailure(c, err)
			return
		}

		if err := streamer.Start(); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": ack.Message})
	})

	authed.POST("/stream/stop", func(c *gin.Context) {
		streamer.Stop()
		c.JSON(http.StatusOK, gin.H{"message": "stream stopped"})
	})
}

func writeFailure(c *gin.Context, err error) {
	var failure *pipeline.Failure
	if !errors.As(err, &failure) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if failure.Silent() {
		c.Status(http.StatusNoContent)
		return
	}

	c.JSON(failureStatus(failure), gin.H{
		"title":   failure.Title,
		"message": failure.Message,
	})
}

func failureStatus(failure *pipeline.Failure) int {
	switch failure.Kind {
	case pipeline.KindDecode:
		return http.StatusBadRequest
	case pipeline.KindNoFace:
		return http.StatusUnprocessableEntity
	case pipeline.KindConfiguration:
		return http.StatusServiceUnavailable
	case pipeline.KindTransport:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
