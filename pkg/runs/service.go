package runs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/raywall/tes-dashboard/pkg/logger"
	"github.com/raywall/tes-dashboard/pkg/tes"
	"github.com/rs/zerolog"
)

const (
	StatusRunning = "RUNNING"

	ModeAll       = "all"
	ModeFederated = "federated"

	GatewayName = "TES Gateway"
)

// Passo exibido no diagrama de progresso do dashboard.
const (
	StepWorkflow  = 2
	StepSnakemake = 3
	StepNextflow  = 4
	StepCWL       = 5
)

// File é um arquivo enviado junto com a execução.
type File struct {
	Key      string `json:"key"`
	Filename string `json:"filename"`
	Path     string `json:"path"`
}

type WorkflowRun struct {
	RunID       string    `json:"run_id"`
	Type        string    `json:"type"`
	TESURL      string    `json:"tes_url"`
	TESName     string    `json:"tes_name"`
	Status      string    `json:"status"`
	SubmittedAt time.Time `json:"submitted_at"`
	Files       []File    `json:"files"`
}

type BatchRun struct {
	RunID        string        `json:"run_id"`
	Mode         string        `json:"mode"`
	WorkflowType string        `json:"workflow_type"`
	Runs         []WorkflowRun `json:"runs"`
	SubmittedAt  time.Time     `json:"submitted_at"`
}

// Upload é um arquivo recebido no formulário de submissão.
type Upload struct {
	Key      string
	Filename string
	Content  io.Reader
}

type WorkflowRequest struct {
	Type   string `validate:"required,oneof=cwl nextflow snakemake"`
	TESURL string `validate:"required"`
	Files  []Upload
}

type BatchRequest struct {
	Mode         string `validate:"required,oneof=all federated"`
	WorkflowType string `validate:"required,oneof=cwl nextflow snakemake"`
	Files        []Upload
}

// Progress é o último caminho percorrido, exibido no diagrama de workflows.
type Progress struct {
	CurrentStep int      `json:"currentStep"`
	LatestPath  []string `json:"latestPath"`
}

// Catalog é a parte do catálogo de instâncias usada aqui.
type Catalog interface {
	Instances() []tes.Instance
	Resolve(url string) tes.Instance
	Gateway() string
}

var (
	// ErrInvalidRequest envolve as falhas de validação.
	ErrInvalidRequest = errors.New("requisição inválida")
	ErrNotFound       = errors.New("execução não encontrada")
)

type Service struct {
	workflows Collection[WorkflowRun]
	batches   Collection[BatchRun]
	catalog   Catalog
	uploadDir string
	validate  *validator.Validate

	mu       sync.Mutex
	progress Progress

	now   func() time.Time
	newID func() string
	log   zerolog.Logger
}

// NewService cria o serviço. uploadDir vazio usa um diretório temporário.
func NewService(workflows Collection[WorkflowRun], batches Collection[BatchRun], catalog Catalog, uploadDir string) *Service {
	if uploadDir == "" {
		uploadDir = filepath.Join(os.TempDir(), "tes-dashboard-uploads")
	}
	return &Service{
		workflows: workflows,
		batches:   batches,
		catalog:   catalog,
		uploadDir: uploadDir,
		validate:  validator.New(),
		progress:  Progress{LatestPath: []string{}},
		now:       time.Now,
		newID:     uuid.NewString,
		log:       logger.Component("runs"),
	}
}

// SubmitWorkflow registra uma execução de workflow em uma instância.
func (s *Service) SubmitWorkflow(ctx context.Context, req WorkflowRequest) (WorkflowRun, error) {
	if err := s.validate.Struct(req); err != nil {
		return WorkflowRun{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	id := s.newID()
	files, err := s.save(id+"_", req.Files)
	if err != nil {
		return WorkflowRun{}, err
	}

	inst := s.catalog.Resolve(req.TESURL)
	run := WorkflowRun{
		RunID:       id,
		Type:        req.Type,
		TESURL:      inst.URL,
		TESName:     inst.Name,
		Status:      StatusRunning,
		SubmittedAt: s.now().UTC(),
		Files:       files,
	}
	if err := s.workflows.Append(ctx, run); err != nil {
		return WorkflowRun{}, err
	}

	path := []string{}
	if inst.Name != "" && !strings.HasPrefix(inst.Name, "Unknown") {
		path = []string{inst.Name}
	}
	s.setProgress(StepWorkflow, path)
	s.log.Info().Str("run_id", id).Str("type", req.Type).Str("tes_url", inst.URL).Msg("workflow registrado")
	return run, nil
}

// SubmitBatch registra um lote. No modo all há uma execução por instância do
// catálogo; no federado, uma única contra o gateway.
func (s *Service) SubmitBatch(ctx context.Context, req BatchRequest) (BatchRun, error) {
	if err := s.validate.Struct(req); err != nil {
		return BatchRun{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	id := s.newID()
	files, err := s.save("batch_"+id+"_", req.Files)
	if err != nil {
		return BatchRun{}, err
	}

	now := s.now().UTC()
	batch := BatchRun{RunID: id, Mode: req.Mode, WorkflowType: req.WorkflowType, SubmittedAt: now}
	run := func(runID, url, name string) WorkflowRun {
		return WorkflowRun{
			RunID: runID, Type: req.WorkflowType, TESURL: url, TESName: name,
			Status: StatusRunning, SubmittedAt: now, Files: files,
		}
	}

	path := []string{}
	if req.Mode == ModeAll {
		for _, inst := range s.catalog.Instances() {
			batch.Runs = append(batch.Runs, run(id+"_"+inst.Name, inst.URL, inst.Name))
			path = append(path, inst.Name)
		}
	} else {
		gw := s.catalog.Gateway()
		if gw == "" {
			return BatchRun{}, fmt.Errorf("%w: gateway federado não configurado", ErrInvalidRequest)
		}
		batch.Runs = []WorkflowRun{run(id, gw, GatewayName)}
		path = append(path, GatewayName)
	}

	if err := s.batches.Append(ctx, batch); err != nil {
		return BatchRun{}, err
	}
	s.setProgress(batchStep(req.WorkflowType), path)
	s.log.Info().Str("run_id", id).Str("mode", req.Mode).Int("runs", len(batch.Runs)).Msg("lote registrado")
	return batch, nil
}

func (s *Service) Workflows(ctx context.Context) ([]WorkflowRun, error) { return s.workflows.All(ctx) }

func (s *Service) Batches(ctx context.Context) ([]BatchRun, error) { return s.batches.All(ctx) }

// Workflow busca uma execução pelo run_id.
func (s *Service) Workflow(ctx context.Context, runID string) (WorkflowRun, error) {
	all, err := s.workflows.All(ctx)
	if err != nil {
		return WorkflowRun{}, err
	}
	for _, w := range all {
		if w.RunID == runID {
			return w, nil
		}
	}
	return WorkflowRun{}, fmt.Errorf("%w: %s", ErrNotFound, runID)
}

// Batch busca um lote pelo run_id do lote ou de qualquer uma de suas execuções.
func (s *Service) Batch(ctx context.Context, runID string) (BatchRun, error) {
	all, err := s.batches.All(ctx)
	if err != nil {
		return BatchRun{}, err
	}
	for _, b := range all {
		if b.RunID == runID {
			return b, nil
		}
		for _, r := range b.Runs {
			if r.RunID == runID {
				return b, nil
			}
		}
	}
	return BatchRun{}, fmt.Errorf("%w: %s", ErrNotFound, runID)
}

// Latest devolve o progresso da última submissão.
func (s *Service) Latest() Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Progress{CurrentStep: s.progress.CurrentStep, LatestPath: append([]string{}, s.progress.LatestPath...)}
}

func (s *Service) setProgress(step int, path []string) {
	s.mu.Lock()
	s.progress = Progress{CurrentStep: step, LatestPath: path}
	s.mu.Unlock()
}

func batchStep(workflowType string) int {
	switch workflowType {
	case "snakemake":
		return StepSnakemake
	case "nextflow":
		return StepNextflow
	default:
		return StepCWL
	}
}

// save grava os uploads como <prefix><nome>. Só o nome base do arquivo é usado.
func (s *Service) save(prefix string, uploads []Upload) ([]File, error) {
	files := []File{}
	if len(uploads) == 0 {
		return files, nil
	}
	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("falha ao criar diretório de uploads: %w", err)
	}
	for _, up := range uploads {
		base := filepath.Base(up.Filename)
		if up.Filename == "" || base == "." || base == string(filepath.Separator) {
			continue
		}
		name := prefix + base
		path := filepath.Join(s.uploadDir, name)
		if err := writeUpload(path, up.Content); err != nil {
			return nil, fmt.Errorf("falha ao salvar %s: %w", up.Filename, err)
		}
		files = append(files, File{Key: up.Key, Filename: name, Path: path})
	}
	return files, nil
}

func writeUpload(path string, r io.Reader) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
