package routes

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"slide-ingestion-platform/internal/database"
	"slide-ingestion-platform/services"
	"slide-ingestion-platform/utils"
)

// IngestRequest holds the optional knobs for starting a batch.
type IngestRequest struct {
	TaskCount int `json:"task_count,omitempty"`
}

// RetryRequest selects which failed result items to retry by id. Empty means
// all of them.
type RetryRequest struct {
	ItemIDs []string `json:"item_ids,omitempty"`
}

// SetupIngestionRoutes registers the ingestion control-plane endpoints.
func SetupIngestionRoutes(router *gin.Engine, batches *services.BatchService) {
	router.POST("/ingest", func(c *gin.Context) {
		var req IngestRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				utils.RespondWithBadRequest(c, "Invalid request body", err.Error())
				return
			}
		}

		batch, err := batches.Start(c.Request.Context(), req.TaskCount)
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to start ingestion batch", err.Error())
			return
		}
		c.JSON(http.StatusAccepted, batch)
	})

	router.GET("/batches", func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

		list, err := batches.List(c.Request.Context(), limit)
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to list batches", err.Error())
			return
		}
		c.JSON(http.StatusOK, gin.H{"batches": list})
	})

	router.GET("/batches/:id", func(c *gin.Context) {
		detail, err := batches.Get(c.Request.Context(), c.Param("id"))
		if err == database.ErrNotFound {
			utils.RespondWithNotFound(c, "Batch not found")
			return
		}
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to load batch", err.Error())
			return
		}
		c.JSON(http.StatusOK, detail)
	})

	router.POST("/batches/:id/cancel", func(c *gin.Context) {
		err := batches.Cancel(c.Request.Context(), c.Param("id"))
		if err == database.ErrNotFound {
			utils.RespondWithNotFound(c, "Batch not found")
			return
		}
		if err == services.ErrBatchTerminal {
			utils.RespondWithConflict(c, "Batch has already finished")
			return
		}
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to cancel batch", err.Error())
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "cancelling"})
	})

	router.POST("/batches/:id/retry", func(c *gin.Context) {
		var req RetryRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				utils.RespondWithBadRequest(c, "Invalid request body", err.Error())
				return
			}
		}

		count, err := batches.Retry(c.Request.Context(), c.Param("id"), req.ItemIDs)
		if err == database.ErrNotFound {
			utils.RespondWithNotFound(c, "Batch not found")
			return
		}
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to retry batch", err.Error())
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"retrying": count})
	})

	router.GET("/batches/:id/export", func(c *gin.Context) {
		data, err := batches.ExportBatch(c.Request.Context(), c.Param("id"))
		if err == database.ErrNotFound {
			utils.RespondWithNotFound(c, "Batch not found")
			return
		}
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to export batch", err.Error())
			return
		}

		c.Header("Content-Disposition",
			fmt.Sprintf("attachment; filename=batch_%s.xlsx", c.Param("id")))
		c.Data(http.StatusOK,
			"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", data)
	})

	router.GET("/files", func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
		offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

		files, err := batches.ListFiles(c.Request.Context())
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to list files", err.Error())
			return
		}

		total := len(files)
		if offset < 0 {
			offset = 0
		}
		if offset > total {
			offset = total
		}
		end := total
		if limit > 0 && offset+limit < end {
			end = offset + limit
		}
		c.JSON(http.StatusOK, gin.H{
			"files":  files[offset:end],
			"total":  total,
			"offset": offset,
		})
	})

	router.GET("/files/:name/url", func(c *gin.Context) {
		url, err := batches.FileURL(c.Param("name"))
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to sign file URL", err.Error())
			return
		}
		c.JSON(http.StatusOK, gin.H{"url": url})
	})

	router.GET("/search", func(c *gin.Context) {
		query := c.Query("q")
		if query == "" {
			utils.RespondWithBadRequest(c, "Query parameter 'q' is required", nil)
			return
		}
		k, _ := strconv.Atoi(c.DefaultQuery("k", "10"))

		hits, err := batches.SearchSlides(c.Request.Context(), query, k)
		if err != nil {
			utils.RespondWithInternalError(c, "Search failed", err.Error())
			return
		}
		c.JSON(http.StatusOK, gin.H{"results": hits})
	})
}
