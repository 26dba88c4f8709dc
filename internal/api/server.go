package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	enumspb "go.temporal.io/api/enums/v1"
	tclient "go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"spamflow/internal/config"
	"spamflow/internal/logger"
	"spamflow/internal/pipeline"
	"spamflow/internal/registry"
	"spamflow/internal/tracking"
	"spamflow/internal/util"
	"spamflow/internal/workflows"
)

type Server struct {
	cfg       config.Config
	predictor *Predictor
	runs      *registry.Bridge
	temporal  tclient.Client
	log       *zap.Logger
}

// NewServer wires the HTTP surface. predictor, runs and temporal may be nil;
// the routes that need them answer 503.
func NewServer(cfg config.Config, predictor *Predictor, runs registry.Reader, temporal tclient.Client, log *zap.Logger) *Server {
	log = logger.OrNop(log)
	s := &Server{cfg: cfg, predictor: predictor, temporal: temporal, log: log}
	if runs != nil {
		s.runs = registry.NewBridge(runs, log)
	}
	return s
}

func (s *Server) Routes() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger(), withCORS())

	r.GET("/", s.handleHome)
	r.GET("/healthz", s.handleHealthz)
	r.GET("/metrics", gin.WrapH(tracking.MetricsHandler()))
	r.POST("/predict", s.handlePredict)
	r.POST("/pipelines/:name", s.handleStartPipeline)
	r.GET("/pipelines/:id/status", s.handlePipelineStatus)
	return r
}

func (s *Server) handleHome(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"Greeting:": "Welcome to the Spam classification"})
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true, "model_loaded": s.predictor != nil})
}

type predictRequest struct {
	Message string `json:"message"`
}

func (s *Server) handlePredict(c *gin.Context) {
	var req predictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErr(c, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
		return
	}
	if s.predictor == nil {
		writeErr(c, http.StatusServiceUnavailable, ErrNoModel)
		return
	}
	class, prob, err := s.predictor.Predict(c.Request.Context(), req.Message)
	if err != nil {
		s.log.Error("prediction failed", zap.Error(err))
		writeErr(c, http.StatusInternalServerError, err)
		return
	}
	label := Label(class)
	tracking.Predictions.WithLabelValues(label).Inc()
	s.log.Debug("prediction served", zap.String("prediction", label), zap.Float64("probability", prob))
	c.JSON(http.StatusOK, gin.H{"prediction": label})
}

type pipelineRequest struct {
	DataPath      string  `json:"data_path"`
	BatchSize     int     `json:"batch_size"`
	Epochs        int     `json:"num_epochs"`
	LearningRate  float64 `json:"learning_rate"`
	NumLabels     int     `json:"num_labels"`
	TrackingRunID string  `json:"tracking_run_id"`
}

// workflowInput maps a pipeline name to the input its workflow takes.
func workflowInput(name string, req pipelineRequest) (any, error) {
	switch name {
	case pipeline.Processing:
		if req.DataPath == "" {
			return nil, errors.New("data_path is required")
		}
		return workflows.ProcessingInput{DataPath: req.DataPath, BatchSize: req.BatchSize}, nil
	case pipeline.ModelTraining:
		return workflows.ModelTrainingInput{TrackingRunID: req.TrackingRunID, Epochs: req.Epochs, LearningRate: req.LearningRate, NumLabels: req.NumLabels}, nil
	case pipeline.ModelEvaluation:
		return workflows.ModelEvaluationInput{TrackingRunID: req.TrackingRunID}, nil
	case pipeline.EndToEnd:
		if req.DataPath == "" {
			return nil, errors.New("data_path is required")
		}
		return workflows.EndToEndInput{
			DataPath: req.DataPath, BatchSize: req.BatchSize, TrackingRunID: req.TrackingRunID,
			Epochs: req.Epochs, LearningRate: req.LearningRate, NumLabels: req.NumLabels,
		}, nil
	}
	return nil, fmt.Errorf("unknown pipeline %q", name)
}

func (s *Server) handleStartPipeline(c *gin.Context) {
	name := c.Param("name")
	var req pipelineRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeErr(c, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
			return
		}
	}
	input, err := workflowInput(name, req)
	if err != nil {
		code := http.StatusBadRequest
		if strings.HasPrefix(err.Error(), "unknown pipeline") {
			code = http.StatusNotFound
		}
		writeErr(c, code, err)
		return
	}
	if name == pipeline.ModelEvaluation {
		if s.runs == nil {
			writeErr(c, http.StatusServiceUnavailable, errors.New("run registry not configured"))
			return
		}
		if _, err := s.runs.RequireSuccessfulRun(c.Request.Context(), pipeline.ModelTraining); err != nil {
			if errors.Is(err, util.ErrPrecondition) {
				writeErr(c, http.StatusPreconditionFailed, err)
				return
			}
			writeErr(c, http.StatusInternalServerError, err)
			return
		}
	}
	if s.temporal == nil {
		writeErr(c, http.StatusServiceUnavailable, errors.New("temporal client not configured"))
		return
	}
	wfID := name + "-" + uuid.NewString()
	we, err := s.temporal.ExecuteWorkflow(c.Request.Context(), tclient.StartWorkflowOptions{
		ID:                                       wfID,
		TaskQueue:                                s.cfg.TemporalTaskQueue,
		WorkflowIDReusePolicy:                    enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
		WorkflowExecutionErrorWhenAlreadyStarted: true,
	}, name, input)
	if err != nil {
		writeErr(c, http.StatusBadGateway, err)
		return
	}
	s.log.Info("pipeline started", zap.String("pipeline", name), zap.String("workflow_id", we.GetID()))
	c.JSON(http.StatusAccepted, gin.H{"workflow_id": we.GetID(), "run_id": we.GetRunID()})
}

func (s *Server) handlePipelineStatus(c *gin.Context) {
	if s.temporal == nil {
		writeErr(c, http.StatusServiceUnavailable, errors.New("temporal client not configured"))
		return
	}
	v, err := s.temporal.QueryWorkflow(c.Request.Context(), c.Param("id"), "", workflows.QueryGetPipelineStatus)
	if err != nil {
		writeErr(c, http.StatusNotFound, err)
		return
	}
	var status workflows.PipelineStatus
	if err := v.Get(&status); err != nil {
		writeErr(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)))
	}
}

func writeErr(c *gin.Context, code int, err error) {
	apiErr := toAPIError(code, err)
	c.AbortWithStatusJSON(code, gin.H{
		"error": gin.H{
			"code":    apiErr.Code,
			"message": apiErr.Message,
		},
	})
}

type apiError struct {
	Code    string
	Message string
}

func toAPIError(status int, err error) apiError {
	msg := "Request failed."
	code := "SF-API-4000"
	raw := ""
	if err != nil {
		raw = strings.ToLower(err.Error())
	}

	switch {
	case status == http.StatusServiceUnavailable:
		if errors.Is(err, ErrNoModel) {
			return apiError{Code: "SF-MODEL-5031", Message: "No promoted model is loaded. Train and evaluate a model first."}
		}
		return apiError{Code: "SF-API-5030", Message: "Service dependency is not configured."}
	case status == http.StatusBadGateway:
		return apiError{Code: "SF-API-5020", Message: "Workflow service unavailable. Retry shortly."}
	case status >= 500:
		return apiError{Code: "SF-API-5000", Message: "Internal server error. Please retry or check service logs."}
	case status == http.StatusBadRequest:
		code = "SF-API-4001"
		msg = "Invalid request. Check inputs and retry."
	case status == http.StatusNotFound:
		code = "SF-API-4004"
		msg = "Requested resource was not found."
	case status == http.StatusPreconditionFailed:
		return apiError{Code: "SF-API-4120", Message: "No successful model training run found. Train a model first."}
	}

	// For 4xx, keep user-safe validation context only.
	switch {
	case strings.Contains(raw, "invalid json"):
		msg = "Malformed JSON request body."
	case strings.Contains(raw, "data_path is required"):
		msg = "A data_path is required for this pipeline."
	case strings.Contains(raw, "unknown pipeline"):
		msg = "Unknown pipeline."
	}
	return apiError{Code: code, Message: msg}
}

func withCORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Headers", "Content-Type")
		c.Header("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
