package engine

import (
	"fmt"
	"regexp"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_javascript "github.com/tree-sitter/tree-sitter-javascript/bindings/go"
	tree_sitter_python "github.com/tree-sitter/tree-sitter-python/bindings/go"

	"github.com/okanya/scriptbox/internal/domain"
)

// ValidationResult reports the outcome of static script validation.
// Errors block execution; warnings annotate risk and never block.
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`

	// syntaxError marks a parse failure so the coordinator can surface
	// SyntaxError instead of ValidationError.
	syntaxError bool
}

// blockedPattern flags a capability scripts must not use. Matching is
// case-sensitive against the raw script text.
type blockedPattern struct {
	re      *regexp.Regexp
	message string
}

// warnPattern annotates a risky but allowed operation.
type warnPattern struct {
	re       *regexp.Regexp
	severity string
	message  string
}

var blockedPatterns = []blockedPattern{
	{regexp.MustCompile(`\brequire\s*\(`), "use of require() is not allowed"},
	{regexp.MustCompile(`\bprocess\.`), "access to process is not allowed"},
	{regexp.MustCompile(`\beval\s*\(`), "use of eval() is not allowed"},
	{regexp.MustCompile(`\bFunction\s*\(`), "use of the Function constructor is not allowed"},
	{regexp.MustCompile(`\bfs\.`), "access to the fs module is not allowed"},
}

var warnPatterns = []warnPattern{
	{regexp.MustCompile(`\.drop\s*\(`), "CRITICAL", "drop() removes an entire collection or table"},
	{regexp.MustCompile(`\bdropDatabase\b`), "CRITICAL", "dropDatabase removes the entire database"},
	{regexp.MustCompile(`\bdeleteMany\s*\(\s*\{\s*\}`), "CRITICAL", "deleteMany({}) with an empty filter deletes every document"},
	{regexp.MustCompile(`\bupdateMany\s*\(\s*\{\s*\}\s*,`), "CRITICAL", "updateMany({}, ...) with an empty filter modifies every document"},
	{regexp.MustCompile(`\bdropIndex(es)?\b`), "HIGH", "dropIndex/dropIndexes removes indexes"},
	{regexp.MustCompile(`\bcreateIndex\b`), "MEDIUM", "createIndex can lock large collections while building"},
}

// Validator performs static pre-flight checks on script bodies: a syntax
// parse for the declared language, then capability and risk pattern scans.
// Stateless and safe for concurrent use; parsers are created per call
// because tree-sitter parsers are not goroutine-safe.
type Validator struct{}

// NewValidator creates a Validator.
func NewValidator() *Validator { return &Validator{} }

// Validate checks the script. Pure: no side effects, no filesystem access.
// A script that fails to parse short-circuits before pattern scanning.
func (v *Validator) Validate(script string, lang domain.Language) ValidationResult {
	res := ValidationResult{Valid: true, Errors: []string{}, Warnings: []string{}}

	if err := checkSyntax(script, lang); err != nil {
		res.Valid = false
		res.syntaxError = true
		res.Errors = append(res.Errors, err.Error())
		return res
	}

	for _, p := range blockedPatterns {
		if p.re.MatchString(script) {
			res.Errors = append(res.Errors, p.message)
		}
	}
	if len(res.Errors) > 0 {
		res.Valid = false
	}

	for _, p := range warnPatterns {
		if p.re.MatchString(script) {
			res.Warnings = append(res.Warnings, p.severity+": "+p.message)
		}
	}

	return res
}

// checkSyntax parses the script with the grammar for its declared language
// and reports the first error node, if any.
func checkSyntax(script string, lang domain.Language) error {
	parser := tree_sitter.NewParser()
	defer parser.Close()

	var grammar *tree_sitter.Language
	switch lang {
	case domain.LanguagePython:
		grammar = tree_sitter.NewLanguage(tree_sitter_python.Language())
	default:
		grammar = tree_sitter.NewLanguage(tree_sitter_javascript.Language())
	}
	if err := parser.SetLanguage(grammar); err != nil {
		return fmt.Errorf("loading %s grammar: %w", lang, err)
	}

	tree := parser.Parse([]byte(script), nil)
	if tree == nil {
		return fmt.Errorf("%s syntax check produced no parse tree", lang)
	}
	defer tree.Close()

	if node := firstErrorNode(tree.RootNode()); node != nil {
		return fmt.Errorf("%s syntax error near line %d", lang, node.StartPosition().Row+1)
	}
	return nil
}

// firstErrorNode walks the tree for the first ERROR or MISSING node.
func firstErrorNode(n *tree_sitter.Node) *tree_sitter.Node {
	if n == nil || !n.HasError() {
		return nil
	}
	if n.IsError() || n.IsMissing() {
		return n
	}
	for i := uint(0); i < n.ChildCount(); i++ {
		if found := firstErrorNode(n.Child(i)); found != nil {
			return found
		}
	}
	// HasError is set but no ERROR descendant was reachable; report this node.
	return n
}
