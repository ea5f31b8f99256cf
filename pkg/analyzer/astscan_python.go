package analyzer

import (
	"fmt"
	"strings"

	pyast "github.com/go-python/gpython/ast"
	"github.com/go-python/gpython/parser"
	"github.com/go-python/gpython/py"

	"github.com/clawguard/clawguard/pkg/finding"
	"github.com/clawguard/clawguard/pkg/skill"
)

// pyDirectCalls maps bare dangerous calls to their classification.
var pyDirectCalls = map[string]struct {
	category finding.Category
	severity finding.Severity
	detail   string
}{
	"eval":       {finding.CategoryObfuscation, finding.SeverityHigh, "eval() executes arbitrary code"},
	"exec":       {finding.CategoryObfuscation, finding.SeverityHigh, "exec() executes arbitrary code"},
	"compile":    {finding.CategoryObfuscation, finding.SeverityMedium, "compile() prepares code for execution"},
	"__import__": {finding.CategorySupplyChain, finding.SeverityHigh, "__import__() loads arbitrary modules at runtime"},
}

// pyAttrCalls maps module.attr call pairs to their classification.
var pyAttrCalls = map[[2]string]struct {
	category finding.Category
	severity finding.Severity
	detail   string
}{
	{"os", "system"}:  {finding.CategorySupplyChain, finding.SeverityHigh, "os.system executes shell commands"},
	{"os", "popen"}:   {finding.CategorySupplyChain, finding.SeverityHigh, "os.popen executes shell commands"},
	{"os", "dup2"}:    {finding.CategoryMalware, finding.SeverityCritical, "os.dup2 over a socket is the canonical reverse-shell primitive"},
	{"os", "execv"}:   {finding.CategorySupplyChain, finding.SeverityHigh, "os.execv replaces the process image"},
	{"importlib", "import_module"}: {finding.CategorySupplyChain, finding.SeverityMedium,
		"importlib.import_module loads modules dynamically"},
}

var subprocessFuncs = map[string]bool{
	"call": true, "run": true, "Popen": true, "check_output": true, "check_call": true,
}

// pythonScan accumulates per-file facts for the combination checks.
type pythonScan struct {
	path  string
	lines []string

	findings []finding.Finding

	importsSocket bool
	usesEnviron   bool

	decodeLine int // base64.b64decode / bytes.fromhex seen
	fetchLine  int // requests.* / urlopen seen
	execLine   int // eval/exec/os.system seen
}

func (a *ASTAnalyzer) analyzePython(script skill.Script) []finding.Finding {
	tree, err := parser.Parse(strings.NewReader(script.Text), script.Path, "exec")
	if err != nil {
		return []finding.Finding{unparseableFinding(a.Name(), script.Path, err)}
	}

	scan := &pythonScan{path: script.Path, lines: strings.Split(script.Text, "\n")}
	pyast.Walk(tree, func(node pyast.Ast) bool {
		switch n := node.(type) {
		case *pyast.Call:
			scan.checkCall(a.Name(), n)
		case *pyast.Import:
			for _, alias := range n.Names {
				if string(alias.Name) == "socket" {
					scan.importsSocket = true
				}
			}
		case *pyast.ImportFrom:
			if string(n.Module) == "socket" {
				scan.importsSocket = true
			}
		case *pyast.Attribute:
			if name, ok := n.Value.(*pyast.Name); ok {
				if string(name.Id) == "os" && string(n.Attr) == "environ" {
					scan.usesEnviron = true
				}
			}
		}
		return true
	})

	scan.finishCombos(a.Name())
	return scan.findings
}

func (s *pythonScan) evidence(line int) string {
	if line >= 1 && line <= len(s.lines) {
		return finding.TruncateEvidence(strings.TrimSpace(s.lines[line-1]))
	}
	return ""
}

func (s *pythonScan) add(analyzer string, cat finding.Category, sev finding.Severity, line int, title, detail string) {
	s.findings = append(s.findings, finding.Finding{
		Analyzer:       analyzer,
		Category:       cat,
		Severity:       sev,
		Title:          title,
		Detail:         fmt.Sprintf("%s (line %d in %s).", detail, line, s.path),
		File:           s.path,
		Line:           line,
		Evidence:       s.evidence(line),
		CWE:            "CWE-94",
		Recommendation: "Remove the dynamic execution path or make it reviewable.",
	})
}

// callLine returns the 1-based line of a call. A Call node from the
// gpython parser can carry no position (Lineno 0); the callee's
// position is used then.
func callLine(call *pyast.Call) int {
	if call.Lineno > 0 {
		return call.Lineno
	}
	switch fn := call.Func.(type) {
	case *pyast.Name:
		return fn.Lineno
	case *pyast.Attribute:
		if fn.Lineno > 0 {
			return fn.Lineno
		}
		if v, ok := fn.Value.(*pyast.Name); ok {
			return v.Lineno
		}
	}
	return 0
}

func (s *pythonScan) checkCall(analyzer string, call *pyast.Call) {
	line := callLine(call)

	switch fn := call.Func.(type) {
	case *pyast.Name:
		name := string(fn.Id)
		if info, ok := pyDirectCalls[name]; ok {
			s.add(analyzer, info.category, info.severity, line,
				fmt.Sprintf("Dangerous call %s() in %s", name, s.path), info.detail)
			if name == "eval" || name == "exec" {
				s.execLine = line
			}
		}
	case *pyast.Attribute:
		obj, ok := fn.Value.(*pyast.Name)
		if !ok {
			// Handles chains like urllib.request.urlopen.
			if inner, ok := fn.Value.(*pyast.Attribute); ok {
				if root, ok := inner.Value.(*pyast.Name); ok &&
					string(root.Id) == "urllib" && string(inner.Attr) == "request" && string(fn.Attr) == "urlopen" {
					s.fetchLine = line
				}
			}
			return
		}
		objName, attrName := string(obj.Id), string(fn.Attr)

		if info, ok := pyAttrCalls[[2]string{objName, attrName}]; ok {
			s.add(analyzer, info.category, info.severity, line,
				fmt.Sprintf("Dangerous call %s.%s() in %s", objName, attrName, s.path), info.detail)
			if objName == "os" && (attrName == "system" || attrName == "popen") {
				s.execLine = line
			}
			return
		}

		switch {
		case objName == "subprocess" && subprocessFuncs[attrName]:
			if hasShellTrue(call) {
				s.add(analyzer, finding.CategorySupplyChain, finding.SeverityHigh, line,
					fmt.Sprintf("subprocess.%s(shell=True) in %s", attrName, s.path),
					"shell=True hands the argument string to a shell, enabling injection")
				s.execLine = line
			}
		case objName == "base64" && attrName == "b64decode":
			s.decodeLine = line
		case objName == "bytes" && attrName == "fromhex":
			s.decodeLine = line
		case objName == "requests" && (attrName == "get" || attrName == "post" || attrName == "put"):
			s.fetchLine = line
		}
	}
}

// finishCombos emits the sequence findings once per file.
func (s *pythonScan) finishCombos(analyzer string) {
	if s.importsSocket && s.usesEnviron {
		s.findings = append(s.findings, finding.Finding{
			Analyzer: analyzer,
			Category: finding.CategoryNetworkExfiltration,
			Severity: finding.SeverityHigh,
			Title:    fmt.Sprintf("Socket networking combined with environment access in %s", s.path),
			Detail: fmt.Sprintf("%s imports socket and reads os.environ; that pairing is how "+
				"credentials leave the machine without an HTTP client.", s.path),
			File:           s.path,
			CWE:            "CWE-200",
			Recommendation: "Separate networking from credential access, or drop both.",
		})
	}
	if s.decodeLine > 0 && s.execLine > 0 {
		s.findings = append(s.findings, finding.Finding{
			Analyzer: analyzer,
			Category: finding.CategoryMalware,
			Severity: finding.SeverityCritical,
			Title:    fmt.Sprintf("Decoded payload executed in %s", s.path),
			Detail: fmt.Sprintf("%s decodes data (line %d) and feeds an execution primitive (line %d); "+
				"this is a packed payload.", s.path, s.decodeLine, s.execLine),
			File:           s.path,
			Line:           s.execLine,
			Evidence:       s.evidence(s.execLine),
			CWE:            "CWE-506",
			Recommendation: "Do not install. Decode-then-execute has no legitimate use in a skill.",
		})
	}
	if s.fetchLine > 0 && s.execLine > 0 {
		s.findings = append(s.findings, finding.Finding{
			Analyzer: analyzer,
			Category: finding.CategoryMalware,
			Severity: finding.SeverityCritical,
			Title:    fmt.Sprintf("Remote content executed in %s", s.path),
			Detail: fmt.Sprintf("%s fetches remote content (line %d) and executes code dynamically (line %d); "+
				"the payload can change after review.", s.path, s.fetchLine, s.execLine),
			File:           s.path,
			Line:           s.execLine,
			Evidence:       s.evidence(s.execLine),
			CWE:            "CWE-494",
			Recommendation: "Do not install. Pin and review all executed content.",
		})
	}
}

// hasShellTrue reports whether a call carries shell=True.
func hasShellTrue(call *pyast.Call) bool {
	for _, kw := range call.Keywords {
		if string(kw.Arg) != "shell" {
			continue
		}
		if nc, ok := kw.Value.(*pyast.NameConstant); ok && nc.Value == py.True {
			return true
		}
	}
	return false
}
