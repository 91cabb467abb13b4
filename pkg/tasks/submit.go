package tasks

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/raywall/tes-dashboard/pkg/logger"
	"github.com/raywall/tes-dashboard/pkg/metrics"
	"github.com/raywall/tes-dashboard/pkg/tes"
	"github.com/rs/zerolog"
)

// SubmitRequest é o corpo de POST /api/submit_task.
type SubmitRequest struct {
	TESInstance string      `json:"tes_instance" validate:"required"`
	DockerImage string      `json:"docker_image" validate:"required"`
	TaskName    string      `json:"task_name"`
	Description string      `json:"description"`
	Command     CommandLine `json:"command"`
	Workdir     string      `json:"workdir"`
	Stdin       string      `json:"stdin"`
	Stdout      string      `json:"stdout"`
	Stderr      string      `json:"stderr"`
	CPUCores    *int        `json:"cpu_cores" validate:"omitempty,gt=0"`
	RAMGB       *float64    `json:"ram_gb" validate:"omitempty,gt=0"`
	DiskGB      *float64    `json:"disk_gb" validate:"omitempty,gt=0"`
	InputURL    string      `json:"input_url"`
	InputPath   string      `json:"input_path"`
	OutputURL   string      `json:"output_url"`
	OutputPath  string      `json:"output_path"`
}

// Códigos locais, além dos classificados em tes.
const (
	CodeMissingField   = "MISSING_FIELD"
	CodeInvalidCommand = "INVALID_COMMAND"
	CodeInvalidRequest = "INVALID_REQUEST"
)

// SubmitError é devolvido ao chamador da submissão com a classificação completa.
type SubmitError struct {
	HTTPStatus     int    `json:"-"`
	Code           string `json:"error_code"`
	Message        string `json:"error"`
	Reason         string `json:"reason,omitempty"`
	TESURL         string `json:"tes_url,omitempty"`
	TESName        string `json:"tes_name,omitempty"`
	UpstreamStatus int    `json:"status_code,omitempty"`
	// TaskID do registro SUBMISSION_FAILED, quando criado
	TaskID string `json:"task_id,omitempty"`
}

func (e *SubmitError) Error() string { return e.Message }

// ErrorType é o código em minúsculas, como exibido pelo dashboard.
func (e *SubmitError) ErrorType() string { return strings.ToLower(e.Code) }

// SubmitResult descreve uma submissão aceita.
type SubmitResult struct {
	TaskID      string              `json:"task_id"`
	TaskName    string              `json:"task_name"`
	Message     string              `json:"message"`
	TESResponse *tes.CreateResponse `json:"tes_response"`
	TESEndpoint string              `json:"tes_endpoint"`
	Task        *Task               `json:"-"`
}

// Upstream é o subconjunto do tes.Client usado na submissão.
type Upstream interface {
	Probe(ctx context.Context, inst tes.Instance) tes.ProbeResult
	SubmitTask(ctx context.Context, inst tes.Instance, spec tes.TaskSpec) (*tes.CreateResponse, error)
}

// Resolver encontra a instância (nome e credenciais) de uma URL.
type Resolver interface {
	Resolve(tesURL string) tes.Instance
}

// Refresher atualiza uma task logo após a submissão.
type Refresher interface {
	ReconcileOne(ctx context.Context, key Key) error
}

// Submitter implementa o fluxo de submissão.
type Submitter struct {
	store     Store
	upstream  Upstream
	resolver  Resolver
	refresher Refresher
	metrics   metrics.Provider
	validate  *validator.Validate
	log       zerolog.Logger
	now       func() time.Time
	newID     func() string
}

func NewSubmitter(store Store, upstream Upstream, resolver Resolver, m metrics.Provider) *Submitter {
	return &Submitter{
		store:    store,
		upstream: upstream,
		resolver: resolver,
		metrics:  m,
		validate: validator.New(),
		log:      logger.Component("submitter"),
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// WithRefresher liga a reconciliação imediata.
func (s *Submitter) WithRefresher(r Refresher) *Submitter {
	s.refresher = r
	return s
}

// Submit valida, monta a task, testa a instância e submete. Falhas depois da
// validação deixam um registro SUBMISSION_FAILED no histórico.
func (s *Submitter) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, validationError(req, err)
	}

	inst := s.resolver.Resolve(req.TESInstance)
	inst.URL = req.TESInstance

	spec, err := BuildSpec(req, s.now())
	if err != nil {
		return nil, &SubmitError{
			HTTPStatus: http.StatusBadRequest,
			Code:       CodeInvalidCommand,
			Message:    "Invalid command syntax: " + err.Error(),
			TESURL:     req.TESInstance,
			TESName:    inst.Name,
		}
	}

	log := s.log.With().Str("tes_url", inst.URL).Str("tes_name", inst.Name).Logger()

	probe := s.upstream.Probe(ctx, inst)
	if !probe.Reachable || probe.AuthRequired {
		serr := connectivityError(probe, inst)
		log.Warn().Str("code", serr.Code).Msg("instância TES indisponível para submissão")
		return nil, s.recordFailure(ctx, req, spec, inst, serr)
	}

	resp, err := s.upstream.SubmitTask(ctx, inst, spec)
	if err != nil {
		serr := upstreamError(err, inst)
		log.Error().Err(err).Str("code", serr.Code).Msg("submissão rejeitada")
		return nil, s.recordFailure(ctx, req, spec, inst, serr)
	}

	task := newTask(spec, req, inst, s.now())
	task.ID = resp.ID
	if task.ID == "" {
		task.ID = s.newID()
	}
	task.State = resp.State
	if !tes.IsValidState(task.State) {
		task.State = tes.StateQueued
	}
	if resp.CreationTime != "" {
		task.CreationTime = resp.CreationTime
	}

	if err := s.store.Append(ctx, task); err != nil {
		return nil, fmt.Errorf("falha ao registrar task %s: %w", task.ID, err)
	}
	s.count("tes.submissions", "success")
	log.Info().Str("task_id", task.ID).Str("state", task.State).Msg("task submetida")

	if s.refresher != nil {
		if err := s.refresher.ReconcileOne(ctx, task.Key()); err != nil {
			log.Debug().Err(err).Str("task_id", task.ID).Msg("atualização imediata falhou")
		}
	}

	return &SubmitResult{
		TaskID:      task.ID,
		TaskName:    task.Name,
		Message:     fmt.Sprintf("Task %q submitted successfully to %s", task.Name, inst.Name),
		TESResponse: resp,
		TESEndpoint: strings.TrimRight(inst.URL, "/") + "/ga4gh/tes/v1/tasks",
		Task:        task,
	}, nil
}

func (s *Submitter) recordFailure(ctx context.Context, req SubmitRequest, spec tes.TaskSpec, inst tes.Instance, serr *SubmitError) error {
	s.count("tes.submissions", "failed")

	task := newTask(spec, req, inst, s.now())
	task.ID = "failed-" + s.newID()
	task.State = StateSubmissionFailed
	task.ErrorCode = serr.Code
	task.ErrorReason = serr.Reason
	if task.ErrorReason == "" {
		task.ErrorReason = serr.Message
	}
	if err := s.store.Append(ctx, task); err != nil {
		s.log.Error().Err(err).Msg("falha ao registrar task SUBMISSION_FAILED")
		return serr
	}
	serr.TaskID = task.ID
	return serr
}

func (s *Submitter) count(name, result string) {
	if s.metrics == nil {
		return
	}
	_ = s.metrics.Count(name, 1, []string{"result:" + result})
}

// BuildSpec monta o documento TES a partir do pedido.
func BuildSpec(req SubmitRequest, now time.Time) (tes.TaskSpec, error) {
	cmd, err := req.Command.Build()
	if err != nil {
		return tes.TaskSpec{}, err
	}

	exec := tes.Executor{
		Image:   req.DockerImage,
		Command: cmd,
		Workdir: firstNonEmpty(req.Workdir, "/tmp"),
		Stdin:   absolutePath(req.Stdin),
		Stdout:  absolutePath(req.Stdout),
		Stderr:  absolutePath(req.Stderr),
	}

	spec := tes.TaskSpec{
		Name:        firstNonEmpty(req.TaskName, "Task-"+now.UTC().Format("20060102-150405")),
		Description: firstNonEmpty(req.Description, "Task submitted via TES Dashboard"),
		Inputs:      []tes.FileParam{},
		Outputs:     []tes.FileParam{},
		Resources:   tes.Resources{CPUCores: 1, RAMGB: 2.0, DiskGB: 10.0},
		Executors:   []tes.Executor{exec},
	}
	if req.CPUCores != nil {
		spec.Resources.CPUCores = *req.CPUCores
	}
	if req.RAMGB != nil {
		spec.Resources.RAMGB = *req.RAMGB
	}
	if req.DiskGB != nil {
		spec.Resources.DiskGB = *req.DiskGB
	}
	if u := strings.TrimSpace(req.InputURL); u != "" {
		spec.Inputs = append(spec.Inputs, tes.FileParam{URL: u, Path: firstNonEmpty(req.InputPath, "/tmp/input"), Type: "FILE"})
	}
	if u := strings.TrimSpace(req.OutputURL); u != "" {
		spec.Outputs = append(spec.Outputs, tes.FileParam{URL: u, Path: firstNonEmpty(req.OutputPath, "/tmp/output"), Type: "FILE"})
	}
	return spec, nil
}

func newTask(spec tes.TaskSpec, req SubmitRequest, inst tes.Instance, now time.Time) *Task {
	return &Task{
		Name:         spec.Name,
		Description:  spec.Description,
		TESURL:       inst.URL,
		TESName:      inst.Name,
		DockerImage:  req.DockerImage,
		CreationTime: now.UTC().Format(time.RFC3339),
		Executors:    spec.Executors,
		Resources:    spec.Resources,
		Inputs:       spec.Inputs,
		Outputs:      spec.Outputs,
		SubmittedAt:  now.UTC(),
	}
}

func validationError(req SubmitRequest, err error) *SubmitError {
	serr := &SubmitError{HTTPStatus: http.StatusBadRequest, Code: CodeInvalidRequest, Message: err.Error(), TESURL: req.TESInstance}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return serr
	}
	for _, fe := range verrs {
		if fe.Tag() == "required" {
			serr.Code = CodeMissingField
			serr.Message = fmt.Sprintf("TES instance URL and Docker image are required. Got tes_url: %s, docker_image: %s",
				req.TESInstance, req.DockerImage)
			return serr
		}
	}
	serr.Message = fmt.Sprintf("Field '%s' failed on '%s'", verrs[0].Field(), verrs[0].Tag())
	return serr
}

func connectivityError(p tes.ProbeResult, inst tes.Instance) *SubmitError {
	serr := &SubmitError{HTTPStatus: http.StatusServiceUnavailable, TESURL: inst.URL, TESName: inst.Name}
	switch {
	case p.AuthRequired:
		serr.Code = tes.CodeUnauthorized
		serr.Message = "Authentication required - TES instance requires credentials"
		serr.Reason = "This TES instance requires authentication. Configure a token or user/password for it."
	case p.Err != nil:
		serr.Code = p.Err.Code
		serr.Message = p.Err.Error()
		serr.Reason = p.Err.Reason
		serr.UpstreamStatus = p.Err.StatusCode
	default:
		serr.Code = tes.CodeServiceUnavailable
		serr.Message = "Could not reach TES instance"
		serr.Reason = "None of the service-info endpoints responded"
	}
	return serr
}

func upstreamError(err error, inst tes.Instance) *SubmitError {
	serr := &SubmitError{HTTPStatus: http.StatusInternalServerError, Code: tes.CodeUnknown, Message: "Task submission failed: " + err.Error(), TESURL: inst.URL, TESName: inst.Name}

	var ue *tes.UpstreamError
	if !errors.As(err, &ue) {
		return serr
	}
	serr.Code, serr.Message, serr.Reason, serr.UpstreamStatus = ue.Code, ue.Error(), ue.Reason, ue.StatusCode
	if ue.StatusCode > 0 {
		serr.HTTPStatus = http.StatusBadRequest
	} else {
		serr.HTTPStatus = http.StatusServiceUnavailable
	}
	return serr
}

func absolutePath(p string) string {
	p = strings.TrimSpace(p)
	if strings.HasPrefix(p, "/") {
		return p
	}
	return ""
}

func firstNonEmpty(v, fallback string) string {
	if strings.TrimSpace(v) != "" {
		return v
	}
	return fallback
}
