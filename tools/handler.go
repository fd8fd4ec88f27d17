package tools

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mmdatafocus/household_backend/procurement"
	"github.com/mmdatafocus/household_backend/utils"
)

const (
	HeaderCorrelationId = "X-Correlation-Id"
	HeaderActor         = "X-Actor"
	ContentTypeXLSX     = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// CorrelationMiddleware stores the caller's correlation id (or a fresh one) and actor in
// the request context and echoes the id back.
func CorrelationMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(HeaderCorrelationId))
		if id == "" {
			id = uuid.NewString()
		}
		ctx := utils.SetCorrelationIdInContext(c.Request.Context(), id)
		if actor := strings.TrimSpace(c.GetHeader(HeaderActor)); actor != "" {
			ctx = utils.SetActorInContext(ctx, actor)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Header(HeaderCorrelationId, id)
		c.Next()
	}
}

func (r *Registry) RegisterRoutes(g gin.IRouter) {
	g.GET("/tools", r.HandleList)
	g.POST("/tools/:name", r.HandleCall)
	g.GET("/reports/spending", r.HandleSpendingReport)
}

func (r *Registry) HandleList(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tools": r.List()})
}

func (r *Registry) HandleCall(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, Result{Error: &ErrorInfo{Code: CodeValidation, Message: "could not read request body"}})
		return
	}
	result := r.Call(c.Request.Context(), c.Param("name"), body)
	c.JSON(statusFor(result), result)
}

// HandleSpendingReport streams the xlsx spending report.
// Query: analysisDepthDays (optional int), granularity (daily|weekly|monthly).
func (r *Registry) HandleSpendingReport(c *gin.Context) {
	req := procurement.SpendingReportRequest{Granularity: c.Query("granularity")}
	if v := c.Query("analysisDepthDays"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, Result{Error: &ErrorInfo{
				Code:    CodeValidation,
				Message: "invalid input",
				Fields:  map[string]string{"analysisDepthDays": "numeric"},
			}})
			return
		}
		req.AnalysisDepthDays = &n
	}
	f, err := r.engine.BuildSpendingReport(c.Request.Context(), req)
	if err != nil {
		res := Result{Error: classify(err)}
		c.JSON(statusFor(res), res)
		return
	}
	defer f.Close()

	filename := "spending-report-" + time.Now().In(r.engine.Location()).Format("2006-01-02") + ".xlsx"
	c.Header("Content-Type", ContentTypeXLSX)
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Status(http.StatusOK)
	if err := f.Write(c.Writer); err != nil {
		_ = c.Error(err)
	}
}

func statusFor(res Result) int {
	if res.Success {
		return http.StatusOK
	}
	switch res.Error.Code {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeUnknownTool:
		return http.StatusNotFound
	case CodeDomain:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}
