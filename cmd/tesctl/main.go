package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/raywall/tes-dashboard/pkg/config"
	"github.com/raywall/tes-dashboard/pkg/middleware"
	"github.com/raywall/tes-dashboard/pkg/secrets"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Comandos esperados: validate, middleware, template")
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "validate":
		cmd := flag.NewFlagSet("validate", flag.ExitOnError)
		file := cmd.String("file", "", "Caminho do YAML do dashboard ou URI s3:// / dynamodb://")
		cmd.Parse(os.Args[2:])
		err = runValidate(context.Background(), os.Stdout, *file)
	case "middleware":
		cmd := flag.NewFlagSet("middleware", flag.ExitOnError)
		file := cmd.String("file", "", "Arquivo de declarações de middleware")
		cmd.Parse(os.Args[2:])
		err = runMiddleware(context.Background(), os.Stdout, *file)
	case "template":
		cmd := flag.NewFlagSet("template", flag.ExitOnError)
		out := cmd.String("out", "middlewares.yaml", "Arquivo de saída (.yaml ou .json)")
		defaults := cmd.Bool("defaults", false, "Gera o pipeline padrão completo")
		cmd.Parse(os.Args[2:])
		err = runTemplate(os.Stdout, *out, *defaults)
	default:
		err = fmt.Errorf("comando desconhecido: %s", os.Args[1])
	}
	if err != nil {
		fmt.Printf("❌ %v\n", err)
		os.Exit(1) // Falha no CI
	}
}

type report struct {
	Valid       bool     `json:"valid"`
	Source      string   `json:"source"`
	Storage     string   `json:"storage,omitempty"`
	Instances   int      `json:"instances,omitempty"`
	Middlewares []string `json:"middlewares,omitempty"`
	Errors      []string `json:"errors,omitempty"`
}

func emit(w io.Writer, r report, ok string) {
	// Output JSON para integração com o frontend
	if os.Getenv("OUTPUT_FORMAT") == "json" {
		out, _ := json.Marshal(r)
		fmt.Fprintln(w, string(out))
		return
	}
	fmt.Fprintln(w, ok)
}

// runValidate carrega a configuração como o servidor faria.
func runValidate(ctx context.Context, w io.Writer, path string) error {
	if path == "" {
		return fmt.Errorf("flag -file é obrigatória")
	}
	fmt.Fprintf(w, "🔍 Analisando configuração: %s ...\n", path)

	loader := config.NewLoader(&config.Source{}, secrets.NewResolver("", nil, nil))
	cfg, err := loader.Load(ctx, path)
	if err != nil {
		return fmt.Errorf("erro de carregamento/estrutura:\n%w", err)
	}
	emit(w, report{
		Valid:     true,
		Source:    path,
		Storage:   cfg.Storage.Backend,
		Instances: len(cfg.Instances.Static),
	}, "✅ Configuração válida e pronta para deploy!")
	return nil
}

// runMiddleware constrói cada declaração sem registrá-la.
func runMiddleware(ctx context.Context, w io.Writer, path string) error {
	if path == "" {
		return fmt.Errorf("flag -file é obrigatória")
	}
	fmt.Fprintf(w, "🔍 Analisando middlewares: %s ...\n", path)

	cm := middleware.NewConfigManager(middleware.NewFactory(middleware.Dependencies{}), &config.Source{})
	cfgs, err := cm.Load(ctx, path)
	if err != nil {
		return err
	}
	built, errs := cm.Build(cfgs)

	r := report{Valid: len(errs) == 0, Source: path}
	for _, mw := range built {
		r.Middlewares = append(r.Middlewares, mw.Name())
	}
	if !r.Valid {
		fmt.Fprintln(w, "❌ As declarações contêm erros:")
		for _, e := range errs {
			r.Errors = append(r.Errors, e.Error())
			fmt.Fprintf(w, " - %s\n", e)
		}
		emit(w, r, "")
		return fmt.Errorf("%d declaração(ões) inválida(s)", len(errs))
	}
	emit(w, r, fmt.Sprintf("✅ %d middleware(s) válido(s)", len(built)))
	return nil
}

func runTemplate(w io.Writer, out string, defaults bool) error {
	cfgs := []middleware.Config{middleware.Template()}
	if defaults {
		cfgs = middleware.Defaults()
	}
	if err := middleware.Save(out, cfgs); err != nil {
		return err
	}
	fmt.Fprintf(w, "✅ %d declaração(ões) gravada(s) em %s\n", len(cfgs), out)
	return nil
}
