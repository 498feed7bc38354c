// Package graphdoc emits a Graphviz DOT description of a wired
// configuration's dependency graph: reader → buffer → transformer → sink
// edges, for the `graph` CLI subcommand.
package graphdoc

import (
	"fmt"
	"sort"
	"strings"

	"github.com/vjranagit/trialpipe/internal/config"
)

// Render returns a DOT document describing doc's readers, their primary
// and derived buffers, and the trial sink.
func Render(doc *config.Document, sinkPath string) string {
	var b strings.Builder
	b.WriteString("digraph trialpipe {\n")
	b.WriteString("  rankdir=LR;\n")
	b.WriteString("  node [shape=box];\n")

	names := make([]string, 0, len(doc.Readers))
	for name := range doc.Readers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		spec := doc.Readers[name]
		readerNode := fmt.Sprintf("reader_%s", sanitize(name))
		fmt.Fprintf(&b, "  %s [label=%q, shape=ellipse];\n", readerNode, fmt.Sprintf("%s (%s)", name, spec.Class))

		resultName, _ := spec.Args["result_name"].(string)
		if resultName == "" {
			resultName = name
		}
		bufNode := fmt.Sprintf("buffer_%s", sanitize(resultName))
		fmt.Fprintf(&b, "  %s [label=%q];\n", bufNode, resultName)
		fmt.Fprintf(&b, "  %s -> %s;\n", readerNode, bufNode)

		for _, eb := range spec.ExtraBuffers {
			derivedNode := fmt.Sprintf("buffer_%s", sanitize(eb.Name))
			fmt.Fprintf(&b, "  %s [label=%q];\n", derivedNode, eb.Name)

			prev := bufNode
			for i, tr := range eb.Transformers {
				tfNode := fmt.Sprintf("transform_%s_%d", sanitize(eb.Name), i)
				fmt.Fprintf(&b, "  %s [label=%q, shape=diamond];\n", tfNode, tr.Class)
				fmt.Fprintf(&b, "  %s -> %s;\n", prev, tfNode)
				prev = tfNode
			}
			fmt.Fprintf(&b, "  %s -> %s;\n", prev, derivedNode)
		}

		if spec.Sync != nil {
			syncNode := fmt.Sprintf("sync_%s", sanitize(name))
			label := "sync"
			if spec.Sync.IsReference {
				label = "sync (reference)"
			} else if spec.Sync.ReaderName != "" {
				label = fmt.Sprintf("sync (inherits %s)", spec.Sync.ReaderName)
			}
			fmt.Fprintf(&b, "  %s [label=%q, shape=hexagon];\n", syncNode, label)
			fmt.Fprintf(&b, "  %s -> %s;\n", readerNode, syncNode)
		}
	}

	delimNode := "delimiter"
	fmt.Fprintf(&b, "  %s [label=%q, shape=hexagon];\n", delimNode, fmt.Sprintf("delimiter(%s==%v)", doc.Trials.StartBuffer, doc.Trials.StartValue))
	fmt.Fprintf(&b, "  %s -> %s;\n", fmt.Sprintf("buffer_%s", sanitize(doc.Trials.StartBuffer)), delimNode)

	sinkNode := "sink"
	fmt.Fprintf(&b, "  %s [label=%q, shape=cylinder];\n", sinkNode, sinkPath)
	fmt.Fprintf(&b, "  %s -> %s;\n", delimNode, sinkNode)

	b.WriteString("}\n")
	return b.String()
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, s)
}
