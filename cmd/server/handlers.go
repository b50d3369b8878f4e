package main

import (
	"errors"
	"net/http"
	"regexp"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/openharbor/chunkstream/cmd/server/middleware"
	"github.com/openharbor/chunkstream/internal/uploads"
	"github.com/openharbor/chunkstream/pkg/types"
	"github.com/rs/zerolog/log"
)

// contentRangePattern matches "bytes start-end/total" with an
// inclusive end, e.g. "bytes 0-9999/15480". The total may be "*" when
// the client does not know the final size yet.
var contentRangePattern = regexp.MustCompile(`^bytes (\d+)-(\d+)/(\d+|\*)$`)

// byteRange is a chunk's claim expressed half-open as [start, end).
type byteRange struct {
	start int64
	end   int64
	total int64 // negative when undeclared
}

// parseContentRange converts the inclusive wire format into the
// half-open range the core works with.
func parseContentRange(header string) (*byteRange, error) {
	if header == "" {
		return nil, uploads.ErrMissingRange
	}
	match := contentRangePattern.FindStringSubmatch(header)
	if match == nil {
		return nil, uploads.ErrInvalidRange
	}

	start, err := strconv.ParseInt(match[1], 10, 64)
	if err != nil {
		return nil, uploads.ErrInvalidRange
	}
	last, err := strconv.ParseInt(match[2], 10, 64)
	if err != nil {
		return nil, uploads.ErrInvalidRange
	}
	if start > last {
		return nil, uploads.ErrInvalidRange
	}

	total := int64(-1)
	if match[3] != "*" {
		total, err = strconv.ParseInt(match[3], 10, 64)
		if err != nil {
			return nil, uploads.ErrInvalidRange
		}
	}

	return &byteRange{start: start, end: last + 1, total: total}, nil
}

// handleAppendChunk accepts one multipart chunk and returns the
// advanced session snapshot.
func handleAppendChunk(service *uploads.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		file, header, err := c.Request.FormFile("file")
		if err != nil {
			writeError(c, uploads.ErrMissingChunk)
			return
		}
		defer file.Close()

		chunkRange, err := parseContentRange(c.GetHeader("Content-Range"))
		if err != nil {
			writeError(c, err)
			return
		}

		// Reject before touching storage when the payload length
		// contradicts the declared range.
		if header.Size != chunkRange.end-chunkRange.start {
			writeError(c, uploads.ErrChunkSizeMismatch)
			return
		}

		snapshot, err := service.AppendChunk(c.Request.Context(), &uploads.AppendRequest{
			UploadID:    c.PostForm("upload_id"),
			Owner:       middleware.OwnerFromContext(c),
			Filename:    header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Start:       chunkRange.start,
			End:         chunkRange.end,
			TotalSize:   chunkRange.total,
			Body:        file,
		})
		if err != nil {
			writeError(c, err)
			return
		}

		c.JSON(http.StatusOK, snapshot)
	}
}

// handleComplete seals an upload after size/checksum verification
func handleComplete(service *uploads.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req types.CompleteRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				writeError(c, uploads.ErrInvalidBody)
				return
			}
		}

		result, err := service.Complete(c.Request.Context(), c.Param("id"), middleware.OwnerFromContext(c), &req)
		if err != nil {
			writeError(c, err)
			return
		}

		c.JSON(http.StatusOK, result)
	}
}

// handleGetUpload returns the snapshot a client resumes from
func handleGetUpload(service *uploads.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		snapshot, err := service.Get(c.Request.Context(), c.Param("id"), middleware.OwnerFromContext(c))
		if err != nil {
			writeError(c, err)
			return
		}

		c.JSON(http.StatusOK, snapshot)
	}
}

// handleListUploads returns the caller's sessions
func handleListUploads(service *uploads.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		owner := middleware.OwnerFromContext(c)
		if owner == nil {
			writeError(c, uploads.ErrNotAuthorized)
			return
		}

		sessions, err := service.ListByOwner(c.Request.Context(), *owner)
		if err != nil {
			writeError(c, err)
			return
		}

		c.JSON(http.StatusOK, sessions)
	}
}

// handleDeleteUpload cancels an upload and removes its blob
func handleDeleteUpload(service *uploads.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := service.Delete(c.Request.Context(), c.Param("id"), middleware.OwnerFromContext(c)); err != nil {
			writeError(c, err)
			return
		}

		c.Status(http.StatusNoContent)
	}
}

// writeError maps protocol errors to their status and code; anything
// else is an infrastructure failure surfaced as a generic 500.
func writeError(c *gin.Context, err error) {
	var uploadErr *uploads.Error
	if errors.As(err, &uploadErr) {
		c.JSON(uploadErr.HTTPStatus, uploadErr)
		return
	}

	log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("request failed")
	c.JSON(http.StatusInternalServerError, gin.H{
		"code":    "ERR_INTERNAL",
		"message": "internal server error",
	})
}
