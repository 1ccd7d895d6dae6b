package main

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/drewfead/parley/internal/cli"
	"github.com/drewfead/parley/internal/config"
	"github.com/drewfead/parley/internal/groupchat"
	"github.com/drewfead/parley/internal/protocol"
	"github.com/drewfead/parley/internal/recovery"
	"github.com/drewfead/parley/internal/supervisor"
	"github.com/drewfead/parley/internal/transcript"
)

func runSingle(ctx context.Context, agent, prompt, dir string, usePTY bool) error {
	ac, err := cfg.Agent(agent)
	if err != nil {
		return err
	}
	parser, err := protocol.ForAgent(agent)
	if err != nil {
		return err
	}

	sup := supervisor.New()
	defer sup.Close()

	id := "run-" + uuid.NewString()[:8]
	sub := sup.Subscribe(id)
	defer sub.Cancel()

	mode := resolveMode(ac, usePTY)
	_, err = sup.Spawn(ctx, supervisor.SpawnConfig{
		SessionID: id,
		Agent:     agent,
		Command:   ac.Binary,
		Args:      ac.Args,
		Dir:       dir,
		Env:       ac.Env,
		Mode:      mode,
		Prompt:    prompt,
	})
	if err != nil {
		return err
	}

	var usages []*protocol.UsageStats
	for {
		select {
		case ev := <-sub.C:
			switch ev.Type {
			case supervisor.EventData:
				printParsed(parser.ParseLine(ev.Line))
			case supervisor.EventUsage:
				if ev.Usage != nil {
					usages = append(usages, ev.Usage)
				}
			case supervisor.EventAgentError:
				fmt.Println(cli.BoldRed(fmt.Sprintf("agent error [%s]: %s", ev.Err.Kind, ev.Err.Message)))
			case supervisor.EventStderr:
				fmt.Println(cli.GrayText(ev.Line))
			case supervisor.EventExit:
				printUsageSummary(protocol.SumUsage(usages...))
				if ev.ExitCode != 0 {
					return fmt.Errorf("%s exited with code %d", agent, ev.ExitCode)
				}
				return nil
			}
		case <-ctx.Done():
			sup.Kill(id)
			return ctx.Err()
		}
	}
}

func runChat(ctx context.Context, agents []string, prompt, dir string, maxTurns int, synthesize bool) error {
	sup := supervisor.New()
	defer sup.Close()

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	rec := recovery.New(sup, store, cfg.Recovery.MaxAttempts, recovery.Backoff{
		Initial:    cfg.Recovery.Backoff.Initial,
		Max:        cfg.Recovery.Backoff.Max,
		Multiplier: cfg.Recovery.Backoff.Multiplier,
	})

	convID := "chat-" + time.Now().Format("20060102-150405")
	conv := groupchat.NewConversation(convID, sup, rec, store,
		groupchat.WithModeratorTimeout(cfg.Chat.ModeratorTimeout))

	seen := map[string]int{}
	for _, agent := range agents {
		ac, err := cfg.Agent(agent)
		if err != nil {
			return err
		}

		name := agent
		seen[agent]++
		if seen[agent] > 1 {
			name = fmt.Sprintf("%s%d", agent, seen[agent])
		}

		spawnCfg := supervisor.SpawnConfig{
			SessionID: convID + "-" + name,
			Agent:     agent,
			Command:   ac.Binary,
			Args:      ac.Args,
			Dir:       dir,
			Env:       ac.Env,
			Mode:      resolveMode(ac, false),
		}

		p, err := groupchat.NewParticipant(name, groupchat.RoleParticipant, spawnCfg, ac.ResumeArgs)
		if err != nil {
			return err
		}
		if err := conv.AddParticipant(p); err != nil {
			return err
		}
		if _, err := sup.Spawn(ctx, spawnCfg); err != nil {
			return fmt.Errorf("spawn %s: %w", name, err)
		}
		detach := conv.Attach(ctx, sup, p)
		defer detach()
	}

	fmt.Println(cli.Bolden("conversation " + convID))
	fmt.Println(cli.GrayText("user: " + prompt))

	if err := conv.Start(ctx, prompt); err != nil {
		return err
	}

	turns := 0
	for turns < maxTurns {
		select {
		case d := <-conv.Deliveries():
			printDelivery(d)
			turns++
		case <-ctx.Done():
			conv.Close()
			return ctx.Err()
		}
	}

	if synthesize {
		mod, err := cfg.Agent(cfg.Chat.ModeratorAgent)
		if err != nil {
			return err
		}
		text, err := conv.SpawnModeratorSynthesis(ctx, supervisor.SpawnConfig{
			Agent:   cfg.Chat.ModeratorAgent,
			Command: mod.Binary,
			Args:    mod.Args,
			Dir:     dir,
			Env:     mod.Env,
		})
		if err != nil {
			return fmt.Errorf("synthesis: %w", err)
		}
		fmt.Println()
		fmt.Println(cli.BoldCyan("moderator summary"))
		fmt.Println(renderMarkdown(text))
	}

	if u := conv.Usage(); u != nil {
		fmt.Println()
		printUsageSummary(u)
	}

	conv.Close()
	return nil
}

// runDoctor probes each configured agent binary through the supervisor's
// auxiliary command channel and reports whether it answers --version.
func runDoctor(ctx context.Context) error {
	sup := supervisor.New()
	defer sup.Close()

	sub := sup.Subscribe("doctor")
	defer sub.Cancel()

	names := make([]string, 0, len(cfg.Agents))
	for name := range cfg.Agents {
		names = append(names, name)
	}
	sort.Strings(names)

	pending := 0
	for _, name := range names {
		ac, err := cfg.Agent(name)
		if err != nil {
			return err
		}
		if err := sup.RunCommand(ctx, "doctor", ac.Binary+" --version", "", ""); err != nil {
			fmt.Printf("%s %s: %v\n", cli.CrossMark, name, err)
			continue
		}
		pending++
	}

	byCommand := map[string]string{}
	for _, name := range names {
		ac, _ := cfg.Agent(name)
		byCommand[ac.Binary+" --version"] = name
	}

	for pending > 0 {
		select {
		case ev := <-sub.C:
			if ev.Type != supervisor.EventCommandExit {
				continue
			}
			name := byCommand[ev.Command]
			label := cli.Styled(name, cli.AgentColor(name))
			if ev.ExitCode == 0 {
				version := strings.TrimSpace(ev.Output)
				fmt.Printf("%s %s: %s\n", cli.GreenText(cli.CheckMark), label, version)
			} else {
				fmt.Printf("%s %s: exit code %d\n", cli.RedText(cli.CrossMark), label, ev.ExitCode)
			}
			pending--
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func runTranscriptList(ctx context.Context) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ids, err := store.Conversations(ctx)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Println("no stored conversations")
		return nil
	}
	for _, id := range ids {
		fmt.Println(id)
	}
	return nil
}

func runTranscriptShow(ctx context.Context, conversationID string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	msgs, err := store.All(ctx, conversationID)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return fmt.Errorf("no transcript for %s", conversationID)
	}

	fmt.Print(renderTranscript(msgs))
	return nil
}

func openStore() (transcript.Store, error) {
	switch cfg.Transcript.Backend {
	case "memory":
		return transcript.NewMemoryStore(), nil
	default:
		return transcript.NewSQLiteStore(cfg.Transcript.Database)
	}
}

func resolveMode(ac config.AgentConfig, forcePTY bool) supervisor.Mode {
	if forcePTY || ac.Mode == "pty" {
		return supervisor.ModePTY
	}
	return supervisor.ModePipe
}
