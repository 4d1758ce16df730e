package passes

import (
	"github.com/sirupsen/logrus"

	"github.com/SleepyMug/egalito/internal/chunk"
	"github.com/SleepyMug/egalito/internal/isa"
	"github.com/SleepyMug/egalito/internal/link"
	"github.com/SleepyMug/egalito/internal/visitor"
)

// LoggingPass wraps each call site with a call to ProbeSymbol (spec
// §4.4 pass corpus: "logging-instrumentation pass (wraps each call site
// with a probe)"). The inserted call is left as a SymbolOnlyLink naming
// ProbeSymbol, without the Weak flag. This pass does not resolve it, and
// the conductor's weak-symbol phase rewrites only links marked Weak.
type LoggingPass struct {
	visitor.DefaultVisitor
	Arch        isa.Arch
	ProbeSymbol string

	log   *logrus.Entry
	sites int
}

func NewLoggingPass(arch isa.Arch, probeSymbol string) *LoggingPass {
	p := &LoggingPass{
		Arch:        arch,
		ProbeSymbol: probeSymbol,
		log:         logrus.WithField("pass", "logging-instrumentation"),
	}
	p.Self = p
	return p
}

// SitesInstrumented reports how many call sites were wrapped, for tests
// and shell reporting.
func (p *LoggingPass) SitesInstrumented() int { return p.sites }

func (p *LoggingPass) VisitBlock(b *chunk.Block) error {
	i := 0
	for {
		instrs := b.Instructions()
		if i >= len(instrs) {
			return nil
		}
		if _, ok := callSite(instrs[i]); !ok {
			i++
			continue
		}
		probe := chunk.NewInstruction("probe:"+p.ProbeSymbol, &link.LinkedControlFlow{
			Arch: p.Arch,
			Kind: link.ControlCall,
		})
		probe.Semantic().SetLink(&link.SymbolOnlyLink{Symbol: p.ProbeSymbol})
		b.InsertInstructionAt(i, probe)
		p.sites++
		p.log.WithField("block", b.Name()).Debug("instrumented call site")
		// Skip past both the newly-inserted probe and the original call
		// site, which InsertInstructionAt shifted one slot to the right.
		i += 2
	}
}

var _ chunk.Visitor = (*LoggingPass)(nil)
