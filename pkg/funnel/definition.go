package funnel

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"
)

//go:embed funnels/*.yaml
var builtinFS embed.FS

// DefaultID names the funnel served when a request does not pick one.
const DefaultID = "commercial-mva"

// Reserved edge targets in funnel YAML.
const (
	TargetDisqualify = "DISQUALIFY"
	TargetContact    = "CONTACT"
)

type definitionFile struct {
	ID              string     `yaml:"id"`
	Version         string     `yaml:"version"`
	Name            string     `yaml:"name"`
	SourceSite      string     `yaml:"sourceSite"`
	FunnelType      string     `yaml:"funnelType"`
	LeadType        string     `yaml:"leadType"`
	AdCategory      string     `yaml:"adCategory"`
	Timezone        string     `yaml:"timezone"`
	MaxClaimAgeDays int        `yaml:"maxClaimAgeDays"`
	DateQuestion    string     `yaml:"dateQuestion"`
	Start           string     `yaml:"start"`
	Rules           []RuleSpec `yaml:"rules"`
	Steps           []stepFile `yaml:"steps"`

	// RequireTCPAConsent makes the contact step reject contacts without
	// marketing consent.
	RequireTCPAConsent bool `yaml:"requireTcpaConsent"`
}

type stepFile struct {
	ID       string       `yaml:"id"`
	Question string       `yaml:"question"`
	Kind     StepKind     `yaml:"kind"`
	Prompt   string       `yaml:"prompt"`
	Next     string       `yaml:"next"`
	Options  []optionFile `yaml:"options"`
}

type optionFile struct {
	Value string `yaml:"value"`
	Label string `yaml:"label"`
	Next  string `yaml:"next"`
}

// Meta carries the routing attributes stamped on every lead of a funnel.
type Meta struct {
	SourceSite string `json:"sourceSite"`
	FunnelType string `json:"funnelType"`
	LeadType   string `json:"leadType"`
	AdCategory string `json:"adCategory,omitempty"`
}

// Funnel is a loaded, validated funnel definition.
type Funnel struct {
	ID      string
	Name    string
	Version *semver.Version
	Meta    Meta
	Graph   *Graph

	RequireTCPAConsent bool
}

// Evaluator returns the funnel's rule evaluator.
func (f *Funnel) Evaluator() *Evaluator { return f.Graph.Evaluator() }

// Parse decodes and validates a YAML funnel definition.
func Parse(data []byte) (*Funnel, error) {
	var def definitionFile
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("decode funnel: %w", err)
	}
	if def.ID == "" {
		return nil, fmt.Errorf("funnel id is required")
	}
	version, err := semver.NewVersion(def.Version)
	if err != nil {
		return nil, fmt.Errorf("funnel %s: invalid version %q: %w", def.ID, def.Version, err)
	}
	if def.SourceSite == "" || def.FunnelType == "" || def.LeadType == "" {
		return nil, fmt.Errorf("funnel %s: sourceSite, funnelType and leadType are required", def.ID)
	}

	loc := time.UTC
	if def.Timezone != "" {
		loc, err = time.LoadLocation(def.Timezone)
		if err != nil {
			return nil, fmt.Errorf("funnel %s: %w", def.ID, err)
		}
	}

	eval, err := NewEvaluator(def.Rules, EvaluatorConfig{
		DateQuestion:    def.DateQuestion,
		MaxClaimAgeDays: def.MaxClaimAgeDays,
		Location:        loc,
	})
	if err != nil {
		return nil, fmt.Errorf("funnel %s: %w", def.ID, err)
	}

	steps := make([]StepDefinition, 0, len(def.Steps))
	for _, sf := range def.Steps {
		step := StepDefinition{
			ID:          sf.ID,
			QuestionKey: sf.Question,
			Kind:        sf.Kind,
			Prompt:      sf.Prompt,
		}
		if sf.Next != "" {
			step.Next = parseTarget(sf.Next)
		}
		for _, o := range sf.Options {
			label := o.Label
			if label == "" {
				label = o.Value
			}
			step.Edges = append(step.Edges, Edge{Value: o.Value, Label: label, Target: parseTarget(o.Next)})
		}
		steps = append(steps, step)
	}

	graph, err := NewGraph(def.Start, steps, eval)
	if err != nil {
		return nil, fmt.Errorf("funnel %s: %w", def.ID, err)
	}

	return &Funnel{
		ID:      def.ID,
		Name:    def.Name,
		Version: version,
		Meta: Meta{
			SourceSite: def.SourceSite,
			FunnelType: def.FunnelType,
			LeadType:   def.LeadType,
			AdCategory: def.AdCategory,
		},
		Graph:              graph,
		RequireTCPAConsent: def.RequireTCPAConsent,
	}, nil
}

func parseTarget(s string) Directive {
	switch strings.TrimSpace(s) {
	case TargetDisqualify:
		return Disqualify()
	case TargetContact:
		return ProceedToContact()
	case "":
		return Directive{}
	default:
		return GoTo(strings.TrimSpace(s))
	}
}

// LoadFile parses a funnel definition from disk.
func LoadFile(path string) (*Funnel, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
	if err != nil {
		return nil, fmt.Errorf("read funnel: %w", err)
	}
	return Parse(data)
}

// Registry holds the funnels a process serves, keyed by id.
type Registry struct {
	mu      sync.RWMutex
	funnels map[string]*Funnel
}

func NewRegistry() *Registry {
	return &Registry{funnels: make(map[string]*Funnel)}
}

// Builtin returns a registry with the embedded funnel definitions.
func Builtin() (*Registry, error) {
	r := NewRegistry()
	if err := r.loadFS(builtinFS, "funnels"); err != nil {
		return nil, err
	}
	return r, nil
}

// Register adds a funnel. A funnel with an id already present replaces it
// only when its version is newer.
func (r *Registry) Register(f *Funnel) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.funnels[f.ID]; ok && !f.Version.GreaterThan(cur.Version) {
		return fmt.Errorf("funnel %s: version %s does not supersede %s", f.ID, f.Version, cur.Version)
	}
	r.funnels[f.ID] = f
	return nil
}

// LoadDir registers every *.yaml and *.yml file in dir.
func (r *Registry) LoadDir(dir string) error {
	return r.loadFS(os.DirFS(dir), ".")
}

func (r *Registry) loadFS(fsys fs.FS, root string) error {
	entries, err := fs.ReadDir(fsys, root)
	if err != nil {
		return fmt.Errorf("list funnels: %w", err)
	}
	for _, e := range entries {
		ext := filepath.Ext(e.Name())
		if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		data, err := fs.ReadFile(fsys, filepath.ToSlash(filepath.Join(root, e.Name())))
		if err != nil {
			return fmt.Errorf("read funnel %s: %w", e.Name(), err)
		}
		f, err := Parse(data)
		if err != nil {
			return fmt.Errorf("%s: %w", e.Name(), err)
		}
		if err := r.Register(f); err != nil {
			return err
		}
	}
	return nil
}

// Get returns a funnel by id.
func (r *Registry) Get(id string) (*Funnel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.funnels[id]
	return f, ok
}

// IDs lists registered funnel ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.funnels))
	for id := range r.funnels {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
