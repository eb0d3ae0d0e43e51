// Package interactive provides the interactive prompt and the event
// printers of ls-client.
package interactive

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/chzyer/readline"

	"github.com/lightstreamer/ls-go-client/internal/config"
	"github.com/lightstreamer/ls-go-client/pkg/client"
	"github.com/lightstreamer/ls-go-client/pkg/message"
	"github.com/lightstreamer/ls-go-client/pkg/subscription"
)

// Shell runs the interactive prompt over one client.
type Shell struct {
	client  *client.Client
	rl      *readline.Instance
	out     io.Writer
	printer *Printer

	subs   map[int]*subscription.Subscription
	nextID int
}

// New creates a shell reading commands from the terminal.
func New(c *client.Client, colored bool) (*Shell, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "ls> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	sh := newShell(c, rl.Stdout(), colored)
	sh.rl = rl
	return sh, nil
}

func newShell(c *client.Client, out io.Writer, colored bool) *Shell {
	sh := &Shell{
		client:  c,
		out:     out,
		printer: NewPrinter(out, colored),
		subs:    make(map[int]*subscription.Subscription),
	}
	c.AddListener(sh.printer)
	return sh
}

// Subscribe activates the subscription described by sc.
func (sh *Shell) Subscribe(sc config.Subscription) error {
	sub, err := sc.Build()
	if err != nil {
		return err
	}
	sh.nextID++
	id := sh.nextID
	sub.AddListener(sh.printer.Subscription(id))
	if err := sh.client.Subscribe(sub); err != nil {
		return err
	}
	sh.subs[id] = sub
	fmt.Fprintf(sh.out, "subscription #%d added\n", id)
	return nil
}

// Run reads and executes commands until quit, EOF or ctx is done.
func (sh *Shell) Run(ctx context.Context) {
	defer sh.rl.Close()

	sh.printHelp()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := sh.rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err != nil {
			fmt.Fprintln(sh.out, "Exiting...")
			return
		}
		if sh.Exec(line) {
			return
		}
	}
}

// Exec runs one command line. It returns true when the shell should
// exit.
func (sh *Shell) Exec(line string) bool {
	parts := strings.Fields(strings.TrimSpace(line))
	if len(parts) == 0 {
		return false
	}
	cmd, args := strings.ToLower(parts[0]), parts[1:]

	var err error
	switch cmd {
	case "help", "?":
		sh.printHelp()
	case "connect":
		err = sh.client.Connect()
	case "disconnect":
		sh.client.Disconnect()
	case "status":
		sh.cmdStatus()
	case "transport":
		err = sh.cmdTransport(args)
	case "sub", "subscribe":
		err = sh.cmdSubscribe(args)
	case "unsub", "unsubscribe":
		err = sh.cmdUnsubscribe(args)
	case "subs":
		sh.cmdList()
	case "get":
		err = sh.cmdGet(args)
	case "send":
		err = sh.cmdSend(args)
	case "quit", "exit", "q":
		fmt.Fprintln(sh.out, "Exiting...")
		return true
	default:
		fmt.Fprintf(sh.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	if err != nil {
		fmt.Fprintf(sh.out, "Error: %v\n", err)
	}
	return false
}

func (sh *Shell) printHelp() {
	fmt.Fprint(sh.out, `
Commands:
  connect                          - Open the session
  disconnect                       - Close the session
  status                           - Show status and session details
  transport <forced|any>           - Change the forced transport
  sub <mode> <items> <fields> [snapshot]
                                   - Subscribe (items and fields comma-separated)
  unsub <id>                       - Remove a subscription
  subs                             - List subscriptions
  get <id> <item> <field>          - Show the last value of a field
  send [-seq name] <text>          - Send a message
  quit                             - Exit

`)
}

func (sh *Shell) cmdStatus() {
	d := sh.client.ConnectionDetails()
	fmt.Fprintf(sh.out, "Status:   %s\n", sh.client.Status())
	fmt.Fprintf(sh.out, "Server:   %s\n", d.ServerAddress())
	if id := d.SessionID(); id != "" {
		fmt.Fprintf(sh.out, "Session:  %s\n", id)
	}
	if t := sh.client.ConnectionOptions().ForcedTransport(); t != "" {
		fmt.Fprintf(sh.out, "Forced:   %s\n", t)
	}
}

func (sh *Shell) cmdTransport(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: transport <forced|any>")
	}
	t := strings.ToUpper(args[0])
	if t == "ANY" {
		t = ""
	}
	return sh.client.ConnectionOptions().SetForcedTransport(t)
}

func (sh *Shell) cmdSubscribe(args []string) error {
	if len(args) < 3 || len(args) > 4 {
		return fmt.Errorf("usage: sub <mode> <items> <fields> [snapshot]")
	}
	sc := config.Subscription{
		Mode:   args[0],
		Items:  strings.Split(args[1], ","),
		Fields: strings.Split(args[2], ","),
	}
	if len(args) == 4 {
		sc.Snapshot = args[3]
	}
	return sh.Subscribe(sc)
}

func (sh *Shell) subscription(arg string) (int, *subscription.Subscription, error) {
	id, err := strconv.Atoi(strings.TrimPrefix(arg, "#"))
	if err != nil {
		return 0, nil, fmt.Errorf("invalid subscription id %q", arg)
	}
	sub, ok := sh.subs[id]
	if !ok {
		return 0, nil, fmt.Errorf("no subscription #%d", id)
	}
	return id, sub, nil
}

func (sh *Shell) cmdUnsubscribe(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: unsub <id>")
	}
	id, sub, err := sh.subscription(args[0])
	if err != nil {
		return err
	}
	if err := sh.client.Unsubscribe(sub); err != nil {
		return err
	}
	delete(sh.subs, id)
	return nil
}

func (sh *Shell) cmdList() {
	if len(sh.subs) == 0 {
		fmt.Fprintln(sh.out, "No subscriptions")
		return
	}
	ids := make([]int, 0, len(sh.subs))
	for id := range sh.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		sub := sh.subs[id]
		state := "pending"
		if sub.IsSubscribed() {
			state = "subscribed"
		}
		items := strings.Join(sub.Items(), ",")
		if items == "" {
			items = sub.ItemGroup()
		}
		fields := strings.Join(sub.Fields(), ",")
		if fields == "" {
			fields = sub.FieldSchema()
		}
		fmt.Fprintf(sh.out, "#%d %s %s [%s] %s\n", id, sub.Mode(), items, fields, state)
	}
}

// ref reads a name or, when numeric, a 1-based position.
func ref(s string) subscription.Ref {
	if pos, err := strconv.Atoi(s); err == nil {
		return subscription.Pos(pos)
	}
	return subscription.Name(s)
}

func (sh *Shell) cmdGet(args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("usage: get <id> <item> <field>")
	}
	_, sub, err := sh.subscription(args[0])
	if err != nil {
		return err
	}
	v, err := sub.Value(ref(args[1]), ref(args[2]))
	if err != nil {
		return err
	}
	fmt.Fprintln(sh.out, valueText(v))
	return nil
}

func (sh *Shell) cmdSend(args []string) error {
	seq := message.UnorderedSequence
	if len(args) >= 2 && args[0] == "-seq" {
		seq, args = args[1], args[2:]
	}
	if len(args) == 0 {
		return fmt.Errorf("usage: send [-seq name] <text>")
	}
	outcome := &printedOutcome{out: sh.printer}
	return sh.client.SendMessage(message.Request{
		Text:                     strings.Join(args, " "),
		Sequence:                 seq,
		DelayTimeout:             -1,
		Listener:                 outcome,
		EnqueueWhileDisconnected: true,
	})
}

// printedOutcome prints the outcome of a message sent from the prompt.
type printedOutcome struct {
	message.BaseListener
	out *Printer
}

func (o *printedOutcome) OnProcessed(msg, response string) {
	o.out.println("> %s", Result{Text: msg, Outcome: "processed", Detail: response})
}

func (o *printedOutcome) OnDeny(msg string, code int, reason string) {
	o.out.println("> %s", Result{Text: msg, Outcome: "denied", Detail: fmt.Sprintf("%d %s", code, reason)})
}

func (o *printedOutcome) OnDiscarded(msg string) {
	o.out.println("> %s", Result{Text: msg, Outcome: "discarded"})
}

func (o *printedOutcome) OnError(msg string) {
	o.out.println("> %s", Result{Text: msg, Outcome: "error"})
}

func (o *printedOutcome) OnAbort(msg string, sentOnNetwork bool) {
	o.out.println("> %s", Result{Text: msg, Outcome: "aborted"})
}
