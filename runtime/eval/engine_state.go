package eval

import (
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"github.com/lithammer/fuzzysearch/fuzzy"

	shellerr "github.com/opal-lang/shellcore/core/errors"
	"github.com/opal-lang/shellcore/core/ir"
	"github.com/opal-lang/shellcore/core/value"
	"github.com/opal-lang/shellcore/runtime/command"
)

// EngineState is the read-mostly state shared across an entire evaluation
// session: the declaration registry, compiled blocks, and resolved
// configuration. It is cheap to share by pointer since its own mutable
// state (the registry map) is guarded by its own lock; per-call mutable
// state always lives on a Stack instead.
type EngineState struct {
	declsByID   sync.Map // uint32 -> command.Command
	declsByName declRegistry
	blocks      sync.Map // uint32 -> *ir.Block
	config      value.Value
	hostConfig  Config

	stdout io.Writer
	stderr io.Writer
}

// NewEngineState creates an empty session with an empty (Nothing) config,
// DefaultConfig settings, and Print output wired to the process's real
// stdout/stderr.
func NewEngineState() *EngineState {
	return &EngineState{
		config:     value.Nothing(value.Span{}),
		hostConfig: DefaultConfig(),
		stdout:     os.Stdout,
		stderr:     os.Stderr,
	}
}

// SetOutputs redirects where Print writes, e.g. to a buffer in tests
// instead of the process's real stdout/stderr.
func (e *EngineState) SetOutputs(stdout, stderr io.Writer) {
	e.stdout = stdout
	e.stderr = stderr
}

// Config returns the resolved host configuration record.
func (e *EngineState) Config() value.Value { return e.config }

// SetConfig replaces the resolved host configuration record.
func (e *EngineState) SetConfig(v value.Value) { e.config = v }

// RegisterBlock installs a compiled IR block under id, for closures and
// plugin-facing EvalClosure requests to resolve later.
func (e *EngineState) RegisterBlock(id uint32, block *ir.Block) {
	e.blocks.Store(id, block)
}

// Block resolves a compiled block by id, or a compiler-bug error if no such
// block was ever registered — a reference to a missing IR block is a
// structural-integrity violation per the specification.
func (e *EngineState) Block(id uint32) (*ir.Block, error) {
	v, ok := e.blocks.Load(id)
	if !ok {
		return nil, shellerr.CompilerBug(fmt.Sprintf("reference to unknown block id %d", id))
	}
	return v.(*ir.Block), nil
}

// RegisterDeclaration installs decl under both a fresh DeclID and its name,
// in the database/sql driver-registration style: callers register once at
// startup (built-ins) or on plugin load (plugin-declaration wrappers), and
// every later lookup is by id or by name.
func (e *EngineState) RegisterDeclaration(id uint32, decl command.Command) {
	e.declsByID.Store(id, decl)
	e.declsByName.register(decl.Name(), id)
}

// Declaration resolves a DeclID to its Command, or a compiler-bug error if
// the id was never registered.
func (e *EngineState) Declaration(id uint32) (command.Command, error) {
	v, ok := e.declsByID.Load(id)
	if !ok {
		return nil, shellerr.CompilerBug(fmt.Sprintf("reference to unknown declaration id %d", id))
	}
	return v.(command.Command), nil
}

// FindDeclarationByName resolves a command name to its DeclID. On a miss it
// returns a GENERIC error whose Help text suggests the closest registered
// name (Levenshtein-distance "did you mean"), matching the ergonomics of the
// teacher's own command-not-found diagnostics.
func (e *EngineState) FindDeclarationByName(name string) (uint32, error) {
	id, ok := e.declsByName.lookup(name)
	if ok {
		return id, nil
	}
	err := shellerr.New(shellerr.KindGeneric, fmt.Sprintf("command %q not found", name))
	if suggestion := e.declsByName.suggest(name); suggestion != "" {
		err = err.WithHelp(fmt.Sprintf("did you mean %q?", suggestion))
	}
	return 0, err
}

// declRegistry is the name -> DeclID half of the registry, kept separate
// from the sync.Map id table because fuzzy suggestion requires iterating
// every registered name, which sync.Map does not do efficiently under
// concurrent writers.
type declRegistry struct {
	mu    sync.RWMutex
	names map[string]uint32
}

func (r *declRegistry) register(name string, id uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.names == nil {
		r.names = make(map[string]uint32)
	}
	r.names[name] = id
}

func (r *declRegistry) lookup(name string) (uint32, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.names[name]
	return id, ok
}

func (r *declRegistry) suggest(name string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	candidates := make([]string, 0, len(r.names))
	for n := range r.names {
		candidates = append(candidates, n)
	}
	ranks := fuzzy.RankFind(name, candidates)
	if len(ranks) == 0 {
		return ""
	}
	sort.Sort(ranks)
	return ranks[0].Target
}
