package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"golang.org/x/term"

	"forge/internal/config"
	"forge/internal/eventlog"
	"forge/internal/metrics"
	"forge/internal/session"
	"forge/internal/task"
)

var (
	replError   = color.New(color.FgRed).SprintFunc()
	replHint    = color.New(color.FgHiBlack).SprintFunc()
	replSummary = color.New(color.FgGreen).SprintFunc()
)

// isInteractive reports whether both stdin and stdout are attached to a
// terminal. Piped/scripted runs get plain, uncolored output.
func isInteractive() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

// isBareExitTypo reports whether line is the literal word "exit" with no
// leading slash — a common typo that must never be silently enqueued as a
// task nor treated as the real /exit command.
func isBareExitTypo(line string) bool {
	return line == "exit"
}

// runRepl drives an interactive session: lines starting with "/" are
// commands, everything else is enqueued as a task description. The bare
// word "exit" with no leading slash is explicitly rejected rather than
// enqueued or treated as a command, per the exit-typo safety property.
func runRepl(ctx context.Context, cfg config.Config) error {
	ctx, cancel := signalContext()
	defer cancel()

	if !isInteractive() {
		color.NoColor = true
	}

	sess, err := session.Open(ctx, cfg, newExecutor(cfg), func(summary string) {
		fmt.Println(replSummary(summary))
	}, metrics.NewTaskMetrics())
	if err != nil {
		return err
	}
	defer sess.Close()

	if sess.Restricted {
		fmt.Println(replError("session opened in restricted mode: project root failed validation"))
	}

	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("forge ready. type /help for commands.")

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if isBareExitTypo(line) {
			fmt.Println(replError("ERROR: unrecognized command \"exit\""))
			fmt.Println(replHint("HINT: use /exit to quit"))
			continue
		}

		if strings.HasPrefix(line, "/") {
			if handleCommand(sess, line) {
				return nil
			}
			continue
		}

		id := sess.Queue.Enqueue(line, task.TypeImplementation)
		fmt.Printf("queued %s\n", id)
	}
	return scanner.Err()
}

// handleCommand executes one "/"-prefixed command. It returns true when
// the REPL should exit.
func handleCommand(sess *session.Session, line string) bool {
	fields := strings.Fields(line)
	cmd := fields[0]
	args := fields[1:]

	switch cmd {
	case "/exit", "/quit":
		return true
	case "/help":
		fmt.Println("/tasks              list all tasks")
		fmt.Println("/logs <id>          show events for a task")
		fmt.Println("/respond <id> <a>   answer a pending clarification")
		fmt.Println("/exit               quit")
	case "/tasks":
		printTasks(sess)
	case "/logs":
		if len(args) < 1 {
			fmt.Println(replError("usage: /logs <id>"))
			return false
		}
		printLogs(sess, args[0])
	case "/respond":
		if len(args) < 2 {
			fmt.Println(replError("usage: /respond <id> <answer>"))
			return false
		}
		if err := sess.Broker.Respond(args[0], strings.Join(args[1:], " ")); err != nil {
			fmt.Println(replError("ERROR: " + err.Error()))
		}
	default:
		fmt.Println(replError("ERROR: unrecognized command " + strconv.Quote(cmd)))
		fmt.Println(replHint("HINT: type /help for the list of commands"))
	}
	return false
}

func printTasks(sess *session.Session) {
	numbers := sess.Queue.Numbers()
	for _, t := range sess.Queue.Snapshot() {
		fmt.Printf("%d. [%s] %s — %s\n", numbers[t.ID], t.State, t.ID, t.Description)
	}
}

func printLogs(sess *session.Session, id string) {
	records := sess.Log.Query(eventlog.Query{TaskID: id})
	if len(records) == 0 {
		fmt.Println(replHint("no events recorded for " + id))
		return
	}
	for _, rec := range records {
		fmt.Printf("%s  %-10s  %v\n", rec.Timestamp.Format("15:04:05.000"), rec.Source, rec.Payload)
	}
}
