package interactive

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/lightstreamer/ls-go-client/pkg/session"
	"github.com/lightstreamer/ls-go-client/pkg/subscription"
)

// Printer writes session and subscription events as text lines.
type Printer struct {
	session.BaseListener

	mu     sync.Mutex
	w      io.Writer
	status func(a ...any) string
	item   func(a ...any) string
	errs   func(a ...any) string
}

// NewPrinter creates a printer writing to w.
func NewPrinter(w io.Writer, colored bool) *Printer {
	p := &Printer{w: w}
	if !colored {
		p.status, p.item, p.errs = fmt.Sprint, fmt.Sprint, fmt.Sprint
		return p
	}
	sprint := func(attrs ...color.Attribute) func(a ...any) string {
		c := color.New(attrs...)
		c.EnableColor()
		return c.SprintFunc()
	}
	p.status = sprint(color.FgYellow)
	p.item = sprint(color.FgCyan, color.Bold)
	p.errs = sprint(color.FgRed)
	return p
}

func (p *Printer) println(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, format+"\n", args...)
}

func (p *Printer) OnStatusChange(status string) {
	p.println("* %s", p.status(status))
}

func (p *Printer) OnServerError(code int, message string) {
	p.println("! %s", p.errs(fmt.Sprintf("server error %d: %s", code, message)))
}

// Subscription returns the listener printing the events of the
// subscription numbered id.
func (p *Printer) Subscription(id int) subscription.Listener {
	return &subPrinter{p: p, id: id}
}

type subPrinter struct {
	subscription.BaseListener
	p  *Printer
	id int
}

func (s *subPrinter) prefix() string { return "#" + strconv.Itoa(s.id) }

func (s *subPrinter) OnSubscription() {
	s.p.println("%s subscribed", s.prefix())
}

func (s *subPrinter) OnUnsubscription() {
	s.p.println("%s unsubscribed", s.prefix())
}

func (s *subPrinter) OnSubscriptionError(code int, message string) {
	s.p.println("%s %s", s.prefix(), s.p.errs(fmt.Sprintf("subscription error %d: %s", code, message)))
}

func (s *subPrinter) OnEndOfSnapshot(itemName string, itemPos int) {
	s.p.println("%s %s end of snapshot", s.prefix(), itemLabel(itemName, itemPos))
}

func (s *subPrinter) OnClearSnapshot(itemName string, itemPos int) {
	s.p.println("%s %s clear snapshot", s.prefix(), itemLabel(itemName, itemPos))
}

func (s *subPrinter) OnItemLostUpdates(itemName string, itemPos int, lost int) {
	s.p.println("%s %s lost %d updates", s.prefix(), itemLabel(itemName, itemPos), lost)
}

func (s *subPrinter) OnRealMaxFrequency(frequency string) {
	s.p.println("%s max frequency %s", s.prefix(), frequency)
}

func (s *subPrinter) OnItemUpdate(u *subscription.ItemUpdate) {
	label := s.p.item(itemLabel(u.ItemName(), u.ItemPos()))
	if u.IsSnapshot() {
		label += " (snapshot)"
	}
	s.p.println("%s %s %s", s.prefix(), label, formatFields(u))
}

func itemLabel(name string, pos int) string {
	if name != "" {
		return name
	}
	return "#" + strconv.Itoa(pos)
}

// formatFields renders the changed fields as name=value pairs, by name
// when the field names are known.
func formatFields(u *subscription.ItemUpdate) string {
	var pairs []string
	if byName, err := u.ChangedFields(); err == nil {
		for name, v := range byName {
			pairs = append(pairs, name+"="+valueText(v))
		}
		sort.Strings(pairs)
		return strings.Join(pairs, " ")
	}

	byPos := u.ChangedFieldsByPosition()
	positions := make([]int, 0, len(byPos))
	for pos := range byPos {
		positions = append(positions, pos)
	}
	sort.Ints(positions)
	for _, pos := range positions {
		pairs = append(pairs, strconv.Itoa(pos)+"="+valueText(byPos[pos]))
	}
	return strings.Join(pairs, " ")
}

func valueText(v *string) string {
	if v == nil {
		return "<null>"
	}
	return strconv.Quote(*v)
}
