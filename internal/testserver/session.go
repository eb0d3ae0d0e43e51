package testserver

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lightstreamer/ls-go-client/pkg/tlcp"
)

// binding is one stream carrying a session. stop is closed when the
// binding is replaced or interrupted.
type binding struct {
	stop chan struct{}
	once sync.Once
	kill func()
}

func (b *binding) close() {
	b.once.Do(func() { close(b.stop) })
}

type subscribed struct {
	mode   string
	items  []string
	fields []string
}

// session is the server side of one client session. Notifications wait
// in queue until the current binding writes them.
type session struct {
	id     string
	values func(item string, fields []string) ([]string, bool)
	notify chan struct{}

	mu      sync.Mutex
	queue   []string
	current *binding
	subs    map[int]*subscribed
	ended   bool
}

func newSession(id string, values func(string, []string) ([]string, bool)) *session {
	return &session{
		id:     id,
		values: values,
		notify: make(chan struct{}, 1),
		subs:   make(map[int]*subscribed),
	}
}

func (ss *session) push(lines ...string) {
	ss.mu.Lock()
	ss.queue = append(ss.queue, lines...)
	ss.mu.Unlock()
	select {
	case ss.notify <- struct{}{}:
	default:
	}
}

// bind makes a new binding current, ending the previous one.
func (ss *session) bind(kill func()) *binding {
	b := &binding{stop: make(chan struct{}), kill: kill}
	ss.mu.Lock()
	prev := ss.current
	ss.current = b
	ss.mu.Unlock()
	if prev != nil {
		prev.close()
	}
	return b
}

func (ss *session) unbind(b *binding) {
	ss.mu.Lock()
	if ss.current == b {
		ss.current = nil
	}
	ss.mu.Unlock()
	b.close()
}

// interrupt breaks the current binding's connection.
func (ss *session) interrupt() {
	ss.mu.Lock()
	b := ss.current
	ss.current = nil
	ss.mu.Unlock()
	if b == nil {
		return
	}
	b.close()
	if b.kill != nil {
		b.kill()
	}
}

func (ss *session) end() {
	ss.mu.Lock()
	ss.ended = true
	b := ss.current
	ss.mu.Unlock()
	if b != nil {
		b.close()
	}
}

// next pops the next line for b. live is false once b is no longer
// current.
func (ss *session) next(b *binding) (line string, ok, live bool) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if ss.current != b || ss.ended {
		return "", false, false
	}
	if len(ss.queue) == 0 {
		return "", false, true
	}
	line = ss.queue[0]
	ss.queue = ss.queue[1:]
	return line, true, true
}

// pump writes queued lines through write until the binding ends. A LOOP
// or END line ends it too. A PROBE is written every keepalive of silence.
func (ss *session) pump(ctx context.Context, b *binding, keepalive time.Duration, write func(string) error) {
	probe := time.NewTicker(keepalive)
	defer probe.Stop()
	for {
		line, ok, live := ss.next(b)
		if !live {
			return
		}
		if ok {
			if err := write(line); err != nil {
				ss.unbind(b)
				return
			}
			if strings.HasPrefix(line, "LOOP") || strings.HasPrefix(line, "END") {
				ss.unbind(b)
				return
			}
			continue
		}
		select {
		case <-ss.notify:
		case <-probe.C:
			if err := write("PROBE"); err != nil {
				ss.unbind(b)
				return
			}
		case <-b.stop:
			return
		case <-ctx.Done():
			ss.unbind(b)
			return
		}
	}
}

// poll writes the queued lines of a polling binding, waiting up to idle
// for the first one.
func (ss *session) poll(ctx context.Context, b *binding, idle time.Duration, write func(string) error) {
	deadline := time.NewTimer(idle)
	defer deadline.Stop()
	wrote := false
	for {
		line, ok, live := ss.next(b)
		if !live {
			return
		}
		if ok {
			write(line)
			wrote = true
			continue
		}
		if wrote || idle <= 0 {
			return
		}
		select {
		case <-ss.notify:
		case <-deadline.C:
			return
		case <-b.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// resume returns the lines following CONOK on a bind: the recovery
// progress when recovering.
func (ss *session) resume(req tlcp.Request) []string {
	if from, ok := req.Params.Get("LS_recovery_from"); ok {
		return []string{"PROG," + from}
	}
	return nil
}

// control applies a control request. A non-zero code refuses it.
func (ss *session) control(p tlcp.Params) (int, string) {
	subID, _ := strconv.Atoi(param(p, "LS_subId"))
	switch op := param(p, "LS_op"); op {
	case "add":
		sub := &subscribed{
			mode:   param(p, "LS_mode"),
			items:  strings.Fields(param(p, "LS_group")),
			fields: strings.Fields(param(p, "LS_schema")),
		}
		if len(sub.items) == 0 || len(sub.fields) == 0 {
			return 21, "bad group or schema"
		}
		ss.mu.Lock()
		ss.subs[subID] = sub
		ss.mu.Unlock()
		ss.push(ss.subscribeLines(subID, sub, param(p, "LS_snapshot") != "false", param(p, "LS_requested_max_frequency"))...)
	case "delete":
		ss.mu.Lock()
		delete(ss.subs, subID)
		ss.mu.Unlock()
		ss.push(fmt.Sprintf("UNSUB,%d", subID))
	case "reconf":
		ss.push(fmt.Sprintf("CONF,%d,%s,filtered", subID, param(p, "LS_requested_max_frequency")))
	case "constrain":
		ss.push("CONS," + param(p, "LS_requested_max_bandwidth"))
	case "force_rebind":
		ss.push("LOOP,0")
	case "destroy":
		ss.push("END,31,destroyed by client")
	default:
		return 66, "unsupported operation " + op
	}
	return 0, ""
}

func (ss *session) subscribeLines(subID int, sub *subscribed, snapshot bool, freq string) []string {
	var lines []string
	if sub.mode == "COMMAND" {
		key, cmd := slices.Index(sub.fields, "key")+1, slices.Index(sub.fields, "command")+1
		lines = append(lines, fmt.Sprintf("SUBCMD,%d,%d,%d,%d,%d", subID, len(sub.items), len(sub.fields), key, cmd))
	} else {
		lines = append(lines, fmt.Sprintf("SUBOK,%d,%d,%d", subID, len(sub.items), len(sub.fields)))
	}
	if freq != "" {
		lines = append(lines, fmt.Sprintf("CONF,%d,%s,filtered", subID, freq))
	}
	if !snapshot || sub.mode == "RAW" {
		return lines
	}
	for i, item := range sub.items {
		if values, ok := ss.values(item, sub.fields); ok {
			lines = append(lines, updateLine(subID, i+1, values))
		}
		if sub.mode != "MERGE" {
			lines = append(lines, fmt.Sprintf("EOS,%d,%d", subID, i+1))
		}
	}
	return lines
}

// publish pushes an update of item to every subscription containing it.
func (ss *session) publish(item string, fields map[string]string) {
	ss.mu.Lock()
	var lines []string
	for subID, sub := range ss.subs {
		pos := slices.Index(sub.items, item)
		if pos < 0 {
			continue
		}
		values := make([]tlcp.FieldValue, len(sub.fields))
		for i, f := range sub.fields {
			if v, ok := fields[f]; ok {
				values[i] = tlcp.FieldValue{Kind: tlcp.ValueString, Text: v}
			}
		}
		lines = append(lines, fmt.Sprintf("U,%d,%d,%s", subID, pos+1, tlcp.EncodeValues(values)))
	}
	ss.mu.Unlock()
	ss.push(lines...)
}

// message acknowledges a message with an outcome.
func (ss *session) message(p tlcp.Params, response string) {
	if param(p, "LS_outcome") == "false" {
		return
	}
	prog := param(p, "LS_msg_prog")
	if prog == "" {
		return
	}
	seq := param(p, "LS_sequence")
	if seq == "" {
		seq = "*"
	}
	ss.push(fmt.Sprintf("MSGDONE,%s,%s,%s", seq, prog, response))
}

func updateLine(subID, pos int, values []string) string {
	fv := make([]tlcp.FieldValue, len(values))
	for i, v := range values {
		fv[i] = tlcp.FieldValue{Kind: tlcp.ValueString, Text: v}
	}
	return fmt.Sprintf("U,%d,%d,%s", subID, pos, tlcp.EncodeValues(fv))
}
