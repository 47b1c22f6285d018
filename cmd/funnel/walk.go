package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/AnarchoFatSats/comercial-mva/pkg/config"
	"github.com/AnarchoFatSats/comercial-mva/pkg/funnel"
	"github.com/AnarchoFatSats/comercial-mva/pkg/leads"
	"github.com/AnarchoFatSats/comercial-mva/pkg/session"
)

// runValidateCmd checks funnel definitions. With no arguments it checks the
// built-in funnels and FUNNEL_DIR.
func runValidateCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("validate", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	jsonOutput := cmd.Bool("json", false, "Output result as JSON")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	type result struct {
		Source string `json:"source"`
		OK     bool   `json:"ok"`
		Error  string `json:"error,omitempty"`
	}
	var results []result
	check := func(source string, err error) {
		r := result{Source: source, OK: err == nil}
		if err != nil {
			r.Error = err.Error()
		}
		results = append(results, r)
	}

	paths := cmd.Args()
	if len(paths) == 0 {
		_, err := funnel.Builtin()
		check("builtin", err)
		if cfg, err := config.Load(); err == nil && cfg.Funnel.Dir != "" {
			paths = append(paths, cfg.Funnel.Dir)
		}
	}
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			check(p, err)
			continue
		}
		if info.IsDir() {
			check(p, funnel.NewRegistry().LoadDir(p))
			continue
		}
		_, err = funnel.LoadFile(p)
		check(p, err)
	}

	failed := 0
	for _, r := range results {
		if !r.OK {
			failed++
		}
	}
	if *jsonOutput {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(results)
	} else {
		for _, r := range results {
			if r.OK {
				fmt.Fprintf(stdout, "ok    %s\n", r.Source)
			} else {
				fmt.Fprintf(stdout, "FAIL  %s: %s\n", r.Source, r.Error)
			}
		}
	}
	if failed > 0 {
		return 1
	}
	return 0
}

// runWalkCmd drives one session through a funnel from the command line:
//
//	funnel walk -answers vehicle_type=company_vehicle,fault=other_driver \
//	    -early "Jane,jane@example.com" -contact "Jane,Doe,5551234567,jane@example.com"
func runWalkCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("walk", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	var (
		funnelID string
		dir      string
		answers  string
		early    string
		contact  string
	)
	cmd.StringVar(&funnelID, "funnel", funnel.DefaultID, "Funnel id")
	cmd.StringVar(&dir, "dir", "", "Extra funnel definitions directory")
	cmd.StringVar(&answers, "answers", "", "Comma-separated questionKey=value pairs, in order")
	cmd.StringVar(&early, "early", "", "Early contact as firstName,email")
	cmd.StringVar(&contact, "contact", "", "Contact as firstName,lastName,phone,email")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	reg, err := funnel.Builtin()
	if err == nil && dir != "" {
		err = reg.LoadDir(dir)
	}
	if err != nil {
		fmt.Fprintf(stderr, "load funnels: %v\n", err)
		return 1
	}
	f, ok := reg.Get(funnelID)
	if !ok {
		fmt.Fprintf(stderr, "unknown funnel: %s\n", funnelID)
		return 1
	}

	w := &walker{fs: session.New(f, leads.Tracking{UTMSource: leads.DefaultUTMSource}), out: stdout}
	if early != "" {
		parts := strings.SplitN(early, ",", 2)
		if len(parts) != 2 {
			fmt.Fprintln(stderr, "-early wants firstName,email")
			return 2
		}
		w.early = &leads.EarlyContact{FirstName: parts[0], Email: parts[1]}
	}

	for _, pair := range splitList(answers) {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			fmt.Fprintf(stderr, "answer %q wants questionKey=value\n", pair)
			return 2
		}
		if err := w.capture(); err != nil {
			return w.fail(stderr, err)
		}
		st, err := w.fs.SubmitAnswer(key, value, "")
		if err != nil {
			return w.fail(stderr, err)
		}
		w.step(fmt.Sprintf("%s=%s", key, value), st)
		if st.Status.Terminal() {
			break
		}
	}
	if err := w.capture(); err != nil {
		return w.fail(stderr, err)
	}

	if contact != "" && !w.fs.Status().Terminal() {
		parts := strings.Split(contact, ",")
		if len(parts) != 4 {
			fmt.Fprintln(stderr, "-contact wants firstName,lastName,phone,email")
			return 2
		}
		st, err := w.fs.SubmitContact(leads.Contact{
			FirstName: parts[0], LastName: parts[1], Phone: parts[2], Email: parts[3], TCPAConsent: true,
		})
		if err != nil {
			return w.fail(stderr, err)
		}
		w.step("contact", st)
	}

	st := w.fs.State()
	if !st.Status.Terminal() {
		fmt.Fprintf(stdout, "waiting at %s\n", st.CurrentStepID)
		return 0
	}
	rec, err := w.fs.ToLeadRecord()
	if err != nil {
		return w.fail(stderr, err)
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(rec)
	return 0
}

type walker struct {
	fs    *session.FormSession
	early *leads.EarlyContact
	out   io.Writer
}

// capture answers a capture step with the -early contact, if the session is
// parked on one.
func (w *walker) capture() error {
	st := w.fs.State()
	if st.Status.Terminal() {
		return nil
	}
	def, ok := w.fs.Funnel().Graph.Step(st.CurrentStepID)
	if !ok || def.Kind != funnel.KindCapture {
		return nil
	}
	if w.early == nil {
		return fmt.Errorf("step %s needs -early firstName,email", st.CurrentStepID)
	}
	next, err := w.fs.SubmitEarlyContact(*w.early)
	if err != nil {
		return err
	}
	w.step("early-contact", next)
	return nil
}

func (w *walker) step(input string, st session.State) {
	switch {
	case st.Status == session.StatusDisqualified:
		fmt.Fprintf(w.out, "%-32s -> Disqualified (%s)\n", input, st.DisqualificationReason)
	case st.Status.Terminal():
		fmt.Fprintf(w.out, "%-32s -> %s\n", input, st.Status)
	default:
		fmt.Fprintf(w.out, "%-32s -> %s\n", input, st.CurrentStepID)
	}
}

func (w *walker) fail(stderr io.Writer, err error) int {
	var cve *session.ContactValidationError
	if errors.As(err, &cve) {
		for field, reason := range cve.Fields {
			fmt.Fprintf(stderr, "contact %s: %s\n", field, reason)
		}
		return 1
	}
	fmt.Fprintf(stderr, "walk: %v\n", err)
	return 1
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
