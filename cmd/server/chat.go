package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"gopherai-localrag/internal/app"
	"gopherai-localrag/internal/bootstrap"
)

func runChat(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	a, err := bootstrap.New(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	orch := a.NewOrchestrator()
	if err := orch.SelectModel(ctx, a.Config.LLM.DefaultModel); err != nil {
		return err
	}
	orch.Activate(ctx)

	r := &repl{orch: orch, out: cmd.OutOrStdout()}
	r.render()
	return r.loop(ctx, cmd.InOrStdin())
}

type repl struct {
	orch *app.Orchestrator
	out  io.Writer
}

func (r *repl) loop(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(r.out, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			return nil
		}
		if err := r.handle(ctx, line); err != nil {
			color.New(color.FgRed).Fprintf(r.out, "%v\n", err)
		}
		r.printNotices()
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (r *repl) handle(ctx context.Context, line string) error {
	if !strings.HasPrefix(line, "/") {
		return r.ask(ctx, line)
	}

	command, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch command {
	case "/model":
		if arg == "" {
			fmt.Fprintf(r.out, "models: %s (current %s)\n", strings.Join(r.orch.Models(), ", "), r.orch.Session().SelectedModel)
			return nil
		}
		if err := r.orch.SelectModel(ctx, arg); err != nil {
			return err
		}
		r.orch.Activate(ctx)
		r.render()
	case "/url":
		fmt.Fprintln(r.out, "Processing...")
		out, err := r.orch.AddURL(ctx, arg)
		if err != nil {
			return err
		}
		r.printOutcome(out)
	case "/pdf":
		f, err := os.Open(arg)
		if err != nil {
			return err
		}
		defer f.Close()
		fmt.Fprintln(r.out, "Processing...")
		out, err := r.orch.AddPDF(ctx, filepath.Base(arg), f)
		if err != nil {
			return err
		}
		r.printOutcome(out)
	case "/clear":
		return r.orch.ClearKnowledgeBase(ctx)
	case "/runs":
		ids, err := r.orch.ListRuns(ctx)
		if err != nil {
			return err
		}
		current := r.orch.Session().CurrentRunID
		for _, id := range ids {
			marker := " "
			if id == current {
				marker = "*"
			}
			fmt.Fprintf(r.out, "%s %s\n", marker, id)
		}
	case "/run":
		if err := r.orch.SelectRun(ctx, arg); err != nil {
			return err
		}
		r.render()
	case "/new":
		r.orch.NewRun()
		r.orch.Activate(ctx)
		r.render()
	default:
		return fmt.Errorf("unknown command %s", command)
	}
	return nil
}

func (r *repl) ask(ctx context.Context, prompt string) error {
	printed := 0
	_, err := r.orch.SubmitMessage(ctx, prompt, func(partial string) {
		if len(partial) >= printed {
			fmt.Fprint(r.out, partial[printed:])
			printed = len(partial)
		}
	})
	if errors.Is(err, app.ErrTurnAborted) {
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(r.out)
	// a failed stream replaces the partial answer with the error text
	if last := r.lastMessage(); strings.HasPrefix(last, "Error: ") {
		color.New(color.FgRed).Fprintln(r.out, last)
	}
	return nil
}

func (r *repl) lastMessage() string {
	t := r.orch.Session().Transcript
	if len(t) == 0 {
		return ""
	}
	return t[len(t)-1].Content
}

func (r *repl) render() {
	v := r.orch.View()
	color.New(color.FgCyan).Fprintf(r.out, "model %s, run %s\n", v.Model, orNone(v.RunID))
	if v.Placeholder != "" {
		fmt.Fprintln(r.out, v.Placeholder)
	}
	for _, m := range v.Messages {
		fmt.Fprintf(r.out, "[%s] %s\n", m.Role, m.Content)
	}
	r.print(v.Notices)
}

func (r *repl) printOutcome(out app.Outcome) {
	switch out.Kind {
	case app.OutcomeAdded:
		color.New(color.FgGreen).Fprintf(r.out, "added %d documents\n", out.Count)
	case app.OutcomeAlreadyPresent:
		fmt.Fprintln(r.out, "already in the knowledge base")
	}
}

func (r *repl) printNotices() {
	r.print(r.orch.DrainNotices())
}

func (r *repl) print(notices []app.Notice) {
	for _, n := range notices {
		c := color.New(color.FgWhite)
		switch n.Level {
		case app.NoticeSuccess:
			c = color.New(color.FgGreen)
		case app.NoticeWarning:
			c = color.New(color.FgYellow)
		case app.NoticeError:
			c = color.New(color.FgRed)
		}
		c.Fprintln(r.out, n.Message)
	}
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
