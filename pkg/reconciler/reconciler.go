// Package reconciler mantém o estado local das tasks alinhado com as
// instâncias TES, consultando periodicamente as que ainda não terminaram.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/raywall/tes-dashboard/pkg/logger"
	"github.com/raywall/tes-dashboard/pkg/metrics"
	"github.com/raywall/tes-dashboard/pkg/tasks"
	"github.com/raywall/tes-dashboard/pkg/tes"
	"github.com/rs/zerolog"
)

const (
	DefaultInterval     = 30 * time.Second
	DefaultErrorBackoff = 60 * time.Second
)

// Fetcher busca a visão remota de uma task.
type Fetcher interface {
	GetTask(ctx context.Context, inst tes.Instance, id string) (*tes.TaskView, error)
}

// Resolver devolve as credenciais da instância dona da task.
type Resolver interface {
	Resolve(tesURL string) tes.Instance
}

type Options struct {
	Interval     time.Duration
	ErrorBackoff time.Duration
	Metrics      metrics.Provider
}

// CycleStats resume um ciclo.
type CycleStats struct {
	Checked  int
	Updated  int
	NotFound int
	Failed   int
}

// Reconciler roda no máximo um loop por instância.
type Reconciler struct {
	store    tasks.Store
	fetcher  Fetcher
	resolver Resolver
	opts     Options
	log      zerolog.Logger

	once   sync.Once
	cancel context.CancelFunc
	done   chan struct{}

	// injetáveis em testes
	after func(time.Duration) <-chan time.Time
}

func New(store tasks.Store, fetcher Fetcher, resolver Resolver, opts Options) *Reconciler {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.ErrorBackoff <= 0 {
		opts.ErrorBackoff = DefaultErrorBackoff
	}
	return &Reconciler{
		store:    store,
		fetcher:  fetcher,
		resolver: resolver,
		opts:     opts,
		log:      logger.Component("reconciler"),
		done:     make(chan struct{}),
		after:    time.After,
	}
}

// Start inicia o loop em background. Chamadas seguintes não têm efeito.
func (r *Reconciler) Start(ctx context.Context) {
	r.once.Do(func() {
		ctx, r.cancel = context.WithCancel(ctx)
		r.log.Info().Dur("interval", r.opts.Interval).Msg("reconciliação iniciada")
		go r.loop(ctx)
	})
}

// Stop cancela o loop e espera ele terminar. Sem Start, retorna na hora.
func (r *Reconciler) Stop() {
	r.once.Do(func() { close(r.done) })
	if r.cancel != nil {
		r.cancel()
	}
	<-r.done
}

func (r *Reconciler) loop(ctx context.Context) {
	defer close(r.done)
	for {
		wait := r.opts.Interval
		if _, err := r.safeCycle(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			r.log.Error().Err(err).Dur("backoff", r.opts.ErrorBackoff).Msg("ciclo de reconciliação falhou")
			wait = r.opts.ErrorBackoff
		}

		select {
		case <-ctx.Done():
			r.log.Info().Msg("reconciliação encerrada")
			return
		case <-r.after(wait):
		}
	}
}

// safeCycle converte panics do ciclo em erro.
func (r *Reconciler) safeCycle(ctx context.Context) (stats CycleStats, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic no ciclo: %v", rec)
		}
	}()
	return r.RunCycle(ctx)
}

// RunCycle executa um ciclo: snapshot das tasks abertas e consulta de cada uma
// fora de qualquer lock. Falhas individuais são só registradas.
func (r *Reconciler) RunCycle(ctx context.Context) (CycleStats, error) {
	start := time.Now()
	var stats CycleStats

	open, err := r.store.NonTerminal(ctx)
	if err != nil {
		return stats, fmt.Errorf("falha ao listar tasks abertas: %w", err)
	}

	for _, t := range open {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		stats.Checked++
		changed, err := r.reconcile(ctx, t.Key())
		switch {
		case err == nil && changed:
			stats.Updated++
		case tes.IsNotFound(err):
			stats.NotFound++
		case err != nil:
			stats.Failed++
		}
	}

	if stats.Checked > 0 {
		r.log.Debug().
			Int("checked", stats.Checked).
			Int("updated", stats.Updated).
			Int("not_found", stats.NotFound).
			Int("failed", stats.Failed).
			Dur("took", time.Since(start)).
			Msg("ciclo de reconciliação")
	}
	r.emit(stats, time.Since(start))
	return stats, nil
}

// ReconcileOne atualiza uma única task. Usado logo após a submissão.
func (r *Reconciler) ReconcileOne(ctx context.Context, key tasks.Key) error {
	_, err := r.reconcile(ctx, key)
	return err
}

func (r *Reconciler) reconcile(ctx context.Context, key tasks.Key) (bool, error) {
	log := r.log.With().Str("task_id", key.TaskID).Str("tes_url", key.TESURL).Logger()

	inst := r.resolver.Resolve(key.TESURL)
	inst.URL = key.TESURL

	view, err := r.fetcher.GetTask(ctx, inst, key.TaskID)
	if err != nil {
		if tes.IsNotFound(err) {
			log.Info().Msg("task ainda não visível no upstream")
		} else {
			log.Warn().Err(err).Msg("falha ao consultar status da task")
		}
		return false, err
	}

	changed, err := r.store.Update(ctx, key, func(t *tasks.Task) bool {
		// terminais não voltam a mudar
		if t.IsTerminal() {
			return false
		}
		return t.Merge(view)
	})
	if errors.Is(err, tasks.ErrNotFound) {
		log.Warn().Msg("task sumiu do store durante a reconciliação")
		return false, err
	}
	if err != nil {
		return false, err
	}
	if changed {
		log.Info().Str("state", view.State).Msg("status da task atualizado")
	}
	return changed, nil
}

func (r *Reconciler) emit(stats CycleStats, took time.Duration) {
	if r.opts.Metrics == nil {
		return
	}
	_ = r.opts.Metrics.Count("reconciler.cycles", 1, nil)
	_ = r.opts.Metrics.Gauge("reconciler.open_tasks", float64(stats.Checked), nil)
	_ = r.opts.Metrics.Count("reconciler.updated", float64(stats.Updated), nil)
	_ = r.opts.Metrics.Count("reconciler.failed", float64(stats.Failed), nil)
	_ = r.opts.Metrics.Histogram("reconciler.cycle_ms", float64(took.Milliseconds()), nil)
}
