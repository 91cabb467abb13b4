package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/raywall/tes-dashboard/pkg/logger"
	"github.com/raywall/tes-dashboard/pkg/middleware"
	"github.com/rs/zerolog"
)

// SQSClient define a interface necessária para o reloader (permite Mocking)
type SQSClient interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// Reloader recarrega o estado vivo do serviço.
type Reloader interface {
	Reload(ctx context.Context) error
}

// MiddlewareReloader relê as declarações da origem e registra de novo no Manager.
// Middlewares ausentes da nova leitura continuam registrados.
type MiddlewareReloader struct {
	Configs  *middleware.ConfigManager
	Manager  *middleware.Manager
	Source   string
	Fallback []middleware.Config
}

func (m *MiddlewareReloader) Reload(ctx context.Context) error {
	cfgs := m.Fallback
	if m.Source != "" {
		loaded, err := m.Configs.Load(ctx, m.Source)
		if err != nil {
			return err
		}
		cfgs = loaded
	}
	if len(cfgs) == 0 {
		return fmt.Errorf("nenhuma declaração de middleware para recarregar")
	}
	_, errs := m.Configs.Apply(m.Manager, cfgs)
	return errors.Join(errs...)
}

// SQSReloader gerencia o loop de verificação do SQS
type SQSReloader struct {
	client   SQSClient
	queueURL string
	reloader Reloader
	backoff  time.Duration
	logger   zerolog.Logger
}

func NewSQSReloader(client SQSClient, queueURL string, reloader Reloader) *SQSReloader {
	return &SQSReloader{
		client:   client,
		queueURL: queueURL,
		reloader: reloader,
		backoff:  5 * time.Second,
		logger:   logger.Component("sqs_reloader"),
	}
}

// WithBackoff altera a espera após um erro de leitura da fila.
func (s *SQSReloader) WithBackoff(d time.Duration) *SQSReloader {
	s.backoff = d
	return s
}

// Start inicia o monitoramento (bloqueante). Cada lote de mensagens gera um único reload.
func (s *SQSReloader) Start(ctx context.Context) {
	if s.queueURL == "" {
		s.logger.Warn().Msg("URL da fila SQS não configurada. Hot Reload desativado.")
		return
	}

	s.logger.Info().Str("queue", s.queueURL).Msg("Monitorando fila SQS para Hot Reload")

	for {
		if ctx.Err() != nil {
			s.logger.Info().Msg("Parando monitoramento SQS")
			return
		}

		out, err := s.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(s.queueURL),
			MaxNumberOfMessages: 10,
			WaitTimeSeconds:     20, // Long polling
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Error().Err(err).Dur("backoff", s.backoff).Msg("Erro no SQS, retentando")
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.backoff):
			}
			continue
		}
		if len(out.Messages) == 0 {
			continue
		}

		s.logger.Info().Int("messages", len(out.Messages)).Msg("Evento de alteração recebido via SQS")
		if err := s.reloader.Reload(ctx); err != nil {
			s.logger.Error().Err(err).Msg("Falha no reload dos middlewares")
		} else {
			s.logger.Info().Msg("Hot Reload aplicado")
		}

		for _, msg := range out.Messages {
			if _, err := s.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
				QueueUrl:      aws.String(s.queueURL),
				ReceiptHandle: msg.ReceiptHandle,
			}); err != nil {
				s.logger.Warn().Err(err).Msg("falha ao remover mensagem da fila")
			}
		}
	}
}
