package sandbox

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"rlmrepl/internal/capability"
)

// capabilityPackage is the only import path the interpreter can resolve.
const capabilityPackage = "rlm"

// wrapper is the generated program prefix and the number of lines it spans.
var wrapper, wrapperLines = buildWrapper()

func buildWrapper() (string, int) {
	var sb strings.Builder
	sb.WriteString("package main\n\n")
	fmt.Fprintf(&sb, "import rlm %q\n\n", capabilityPackage)
	sb.WriteString("var (\n")
	for _, c := range capability.Capabilities() {
		fmt.Fprintf(&sb, "\t%s = rlm.%s\n", c.Name, c.Symbol)
	}
	sb.WriteString("\tconversation = rlm.View()\n")
	sb.WriteString(")\n\n")
	sb.WriteString("func main() {\n")
	sb.WriteString("\tvar result interface{}\n")
	sb.WriteString("\tdefer func() { rlm.Bind(result) }()\n")
	prefix := sb.String()
	return prefix, strings.Count(prefix, "\n")
}

// wrap places code inside the generated main.
func wrap(code string) string {
	return wrapper + code + "\n}\n"
}

var positionPrefix = regexp.MustCompile(`(^|\s)(\d+):(\d+):`)

// scriptPositions rewrites interpreter positions from wrapper lines to
// script lines.
func scriptPositions(msg string) string {
	return positionPrefix.ReplaceAllStringFunc(msg, func(m string) string {
		sub := positionPrefix.FindStringSubmatch(m)
		line, err := strconv.Atoi(sub[2])
		if err != nil || line <= wrapperLines {
			return m
		}
		return fmt.Sprintf("%sline %d:%s:", sub[1], line-wrapperLines, sub[3])
	})
}
