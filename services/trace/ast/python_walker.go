// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ast

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
	"go.opentelemetry.io/otel/codes"
)

// PythonWalkerOption configures a PythonWalker instance.
type PythonWalkerOption func(*PythonWalker)

// WithPythonMaxFileSize sets the maximum content size the walker accepts.
//
// Parameters:
//   - bytes: Maximum size in bytes. Non-positive values are ignored.
//
// Example:
//
//	walker := NewPythonWalker(WithPythonMaxFileSize(5 * 1024 * 1024))
func WithPythonMaxFileSize(bytes int64) PythonWalkerOption {
	return func(w *PythonWalker) {
		if bytes > 0 {
			w.maxFileSize = bytes
		}
	}
}

// WithPythonLogger sets the logger used for diagnostics.
func WithPythonLogger(logger *slog.Logger) PythonWalkerOption {
	return func(w *PythonWalker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// PythonWalker implements Walker for Python source code.
//
// Description:
//
//	PythonWalker parses source with tree-sitter and walks the tree once,
//	threading the enclosing function name through the recursion. It
//	records:
//	  - one FlowEdge per call whose target is a name or an attribute
//	  - assignment targets for calls that are the direct right-hand side
//	    of an assignment
//	  - every declared function name
//
// Thread Safety:
//
//	Safe for concurrent use. Each Walk call creates its own tree-sitter
//	parser and holds no state on the walker.
//
// Example:
//
//	walker := NewPythonWalker()
//	res, err := walker.Walk(ctx, []byte("def f(): pass\nf()\n"), "main.py")
//	if err != nil {
//	    return err
//	}
//	for _, e := range res.Edges {
//	    fmt.Println(e)
//	}
type PythonWalker struct {
	maxFileSize int64
	logger      *slog.Logger
}

// NewPythonWalker creates a PythonWalker with the given options.
//
// Outputs:
//   - *PythonWalker: Configured walker, never nil
func NewPythonWalker(opts ...PythonWalkerOption) *PythonWalker {
	w := &PythonWalker{
		maxFileSize: DefaultMaxFileSize,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Walk parses Python source and extracts its call flow.
//
// Description:
//
//	Validates the content, parses it with tree-sitter, rejects trees that
//	contain syntax errors and then visits every node in pre-order.
//
// Inputs:
//   - ctx: Context for cancellation. Checked before and after parsing.
//     Tree-sitter parsing itself cannot be interrupted mid-parse.
//   - content: Raw source bytes. Must be valid UTF-8.
//   - filePath: Path used in error messages and the result.
//
// Outputs:
//   - *WalkResult: Edges, assignments and scopes. Never nil on success.
//   - error: Non-nil on failure. No partial result is returned:
//   - ErrFileTooLarge: Content exceeds maxFileSize
//   - ErrInvalidContent: Content is not valid UTF-8
//   - *ParseError: Source contains a syntax error
//   - Context errors: Context was canceled or timed out
//
// Thread Safety:
//
//	This method is safe for concurrent use.
func (w *PythonWalker) Walk(ctx context.Context, content []byte, filePath string) (*WalkResult, error) {
	ctx, span := startWalkSpan(ctx, "python", filePath, len(content))
	defer span.End()

	start := time.Now()
	fail := func(err error) (*WalkResult, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		recordWalkMetrics(ctx, "python", time.Since(start), 0, false)
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return fail(fmt.Errorf("walk canceled before start: %w", err))
	}

	if int64(len(content)) > w.maxFileSize {
		return fail(fmt.Errorf("%w: size %d exceeds limit %d", ErrFileTooLarge, len(content), w.maxFileSize))
	}

	if len(content) > WarnFileSize {
		w.logger.Warn("walking large file",
			slog.String("file", filePath),
			slog.Int("size_bytes", len(content)))
	}

	if !utf8.Valid(content) {
		return fail(fmt.Errorf("%w: content is not valid UTF-8", ErrInvalidContent))
	}

	hash := sha256.Sum256(content)

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(python.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return fail(fmt.Errorf("tree-sitter parse failed: %w", err))
	}
	defer tree.Close()

	if err := ctx.Err(); err != nil {
		return fail(fmt.Errorf("walk canceled after tree-sitter: %w", err))
	}

	root := tree.RootNode()
	if root == nil {
		return fail(NewParseError(filePath, 0, 0, "tree-sitter returned nil root node"))
	}
	if perr := firstSyntaxError(root, content, filePath); perr != nil {
		return fail(perr)
	}

	result := &WalkResult{
		FilePath:      filePath,
		Language:      "python",
		Hash:          hex.EncodeToString(hash[:]),
		Edges:         make([]FlowEdge, 0, 16),
		Assignments:   make(AssignmentMap),
		DefinedScopes: make(map[string]struct{}),
	}

	v := &pythonVisitor{
		content:  content,
		filePath: filePath,
		result:   result,
		logger:   w.logger,
	}
	v.visit(root, MainScope)

	if err := ctx.Err(); err != nil {
		return fail(fmt.Errorf("walk canceled after extraction: %w", err))
	}

	setWalkSpanResult(span, len(result.Edges), len(result.Assignments), len(result.DefinedScopes))
	recordWalkMetrics(ctx, "python", time.Since(start), len(result.Edges), true)

	return result, nil
}

// Language returns "python".
func (w *PythonWalker) Language() string {
	return "python"
}

// Extensions returns []string{".py", ".pyi"}.
func (w *PythonWalker) Extensions() []string {
	return []string{".py", ".pyi"}
}

// pythonVisitor carries the per-walk accumulators. The current scope is
// never stored here; it is passed down the recursion.
type pythonVisitor struct {
	content  []byte
	filePath string
	result   *WalkResult
	logger   *slog.Logger
}

// visit dispatches on the node kinds the analysis cares about and falls
// through to the children for everything else.
//
// Children are visited in Python AST field order, which differs from
// source order for definitions, argument lists, conditional expressions
// and dict displays.
func (v *pythonVisitor) visit(node *sitter.Node, scope string) {
	if node == nil {
		return
	}

	switch node.Type() {
	case "function_definition":
		v.visitFunction(node, scope, nil)
		return
	case "decorated_definition":
		v.visitDecorated(node, scope)
		return
	case "lambda":
		v.visitAll(parameterOrder(node.ChildByFieldName("parameters")), scope)
		v.visit(node.ChildByFieldName("body"), scope)
		return
	case "argument_list":
		v.visitAll(argumentOrder(node), scope)
		return
	case "conditional_expression":
		v.visitAll(conditionalOrder(node), scope)
		return
	case "dictionary":
		v.visitAll(dictionaryOrder(node), scope)
		return
	case "call":
		v.recordCall(node, scope)
	case "assignment":
		v.recordAssignment(node)
	}

	v.visitChildren(node, scope)
}

func (v *pythonVisitor) visitChildren(node *sitter.Node, scope string) {
	count := int(node.ChildCount())
	for i := 0; i < count; i++ {
		v.visit(node.Child(i), scope)
	}
}

func (v *pythonVisitor) visitAll(nodes []*sitter.Node, scope string) {
	for _, n := range nodes {
		v.visit(n, scope)
	}
}

// visitDecorated visits a decorated definition. A function's decorators
// run in the function's scope after its body; a class's decorators run
// in the enclosing scope after the class.
func (v *pythonVisitor) visitDecorated(node *sitter.Node, scope string) {
	var decorators []*sitter.Node
	count := int(node.NamedChildCount())
	for i := 0; i < count; i++ {
		child := node.NamedChild(i)
		if child != nil && child.Type() == "decorator" {
			decorators = append(decorators, child)
		}
	}

	def := node.ChildByFieldName("definition")
	if def != nil && def.Type() == "function_definition" {
		v.visitFunction(def, scope, decorators)
		return
	}
	v.visit(def, scope)
	v.visitAll(decorators, scope)
}

// visitFunction opens the function's scope for everything it owns:
// parameters, body, decorators, return annotation and type parameters,
// in that order.
func (v *pythonVisitor) visitFunction(node *sitter.Node, scope string, decorators []*sitter.Node) {
	nameNode := node.ChildByFieldName("name")
	params := node.ChildByFieldName("parameters")
	body := node.ChildByFieldName("body")
	returns := node.ChildByFieldName("return_type")

	inner := scope
	if nameNode != nil {
		inner = v.text(nameNode)
		v.result.DefinedScopes[inner] = struct{}{}
	}

	v.visitAll(parameterOrder(params), inner)
	v.visit(body, inner)
	v.visitAll(decorators, inner)
	v.visit(returns, inner)

	count := int(node.NamedChildCount())
	for i := 0; i < count; i++ {
		child := node.NamedChild(i)
		if child == nil || isOneOf(child, nameNode, params, body, returns) {
			continue
		}
		v.visit(child, inner)
	}
}

func isOneOf(node *sitter.Node, candidates ...*sitter.Node) bool {
	for _, c := range candidates {
		if c != nil && sameNode(node, c) {
			return true
		}
	}
	return false
}

// parameterOrder returns the expressions of a parameter list in the order
// posonly/regular annotations, *args annotation, keyword-only annotations,
// keyword-only defaults, **kwargs annotation, regular defaults.
func parameterOrder(params *sitter.Node) []*sitter.Node {
	if params == nil {
		return nil
	}

	var positional, vararg, keywordOnly, kwDefaults, kwarg, defaults []*sitter.Node
	afterStar := false
	count := int(params.NamedChildCount())
	for i := 0; i < count; i++ {
		p := params.NamedChild(i)
		if p == nil {
			continue
		}
		switch p.Type() {
		case "keyword_separator", "list_splat_pattern":
			afterStar = true
		case "typed_parameter":
			ann := p.ChildByFieldName("type")
			switch first := p.NamedChild(0); {
			case first != nil && first.Type() == "list_splat_pattern":
				vararg = append(vararg, ann)
				afterStar = true
			case first != nil && first.Type() == "dictionary_splat_pattern":
				kwarg = append(kwarg, ann)
			case afterStar:
				keywordOnly = append(keywordOnly, ann)
			default:
				positional = append(positional, ann)
			}
		case "default_parameter", "typed_default_parameter":
			ann := p.ChildByFieldName("type")
			value := p.ChildByFieldName("value")
			if afterStar {
				keywordOnly = append(keywordOnly, ann)
				kwDefaults = append(kwDefaults, value)
			} else {
				positional = append(positional, ann)
				defaults = append(defaults, value)
			}
		}
	}

	out := make([]*sitter.Node, 0, count)
	for _, group := range [][]*sitter.Node{positional, vararg, keywordOnly, kwDefaults, kwarg, defaults} {
		out = append(out, group...)
	}
	return out
}

// argumentOrder puts positional arguments (including *spread) before
// keyword arguments and **spread.
func argumentOrder(args *sitter.Node) []*sitter.Node {
	count := int(args.NamedChildCount())
	positional := make([]*sitter.Node, 0, count)
	var keywords []*sitter.Node
	for i := 0; i < count; i++ {
		arg := args.NamedChild(i)
		if arg == nil {
			continue
		}
		switch arg.Type() {
		case "comment":
		case "keyword_argument", "dictionary_splat":
			keywords = append(keywords, arg)
		default:
			positional = append(positional, arg)
		}
	}
	return append(positional, keywords...)
}

// conditionalOrder turns "body if test else orelse" into test, body, orelse.
func conditionalOrder(node *sitter.Node) []*sitter.Node {
	parts := namedNonComment(node)
	if len(parts) != 3 {
		return parts
	}
	return []*sitter.Node{parts[1], parts[0], parts[2]}
}

// dictionaryOrder visits every key before any value. A **spread only
// contributes a value.
func dictionaryOrder(node *sitter.Node) []*sitter.Node {
	entries := namedNonComment(node)
	keys := make([]*sitter.Node, 0, len(entries))
	values := make([]*sitter.Node, 0, len(entries))
	for _, e := range entries {
		if e.Type() == "pair" {
			keys = append(keys, e.ChildByFieldName("key"))
			values = append(values, e.ChildByFieldName("value"))
			continue
		}
		values = append(values, e)
	}
	return append(keys, values...)
}

func namedNonComment(node *sitter.Node) []*sitter.Node {
	count := int(node.NamedChildCount())
	out := make([]*sitter.Node, 0, count)
	for i := 0; i < count; i++ {
		child := node.NamedChild(i)
		if child != nil && child.Type() != "comment" {
			out = append(out, child)
		}
	}
	return out
}

// recordCall appends the edge for a call before its children are visited.
func (v *pythonVisitor) recordCall(node *sitter.Node, scope string) {
	callee, ok := v.calleeName(node)
	if !ok {
		v.logger.Debug("skipping call with unsupported target",
			slog.String("file", v.filePath),
			slog.Int("line", int(node.StartPoint().Row)+1))
		return
	}

	v.result.Edges = append(v.result.Edges, FlowEdge{
		Caller: scope,
		Callee: callee,
		Args:   v.renderArguments(node.ChildByFieldName("arguments")),
	})
}

// calleeName resolves the lexical target of a call.
//
// identifier calls yield the identifier, attribute calls yield only the
// attribute name. Any other target shape yields false.
func (v *pythonVisitor) calleeName(call *sitter.Node) (string, bool) {
	fn := unwrapParens(call.ChildByFieldName("function"))
	if fn == nil {
		return "", false
	}

	switch fn.Type() {
	case "identifier":
		return v.text(fn), true
	case "attribute":
		attr := fn.ChildByFieldName("attribute")
		if attr == nil {
			return "", false
		}
		return v.text(attr), true
	}
	return "", false
}

// renderArguments renders the positional arguments of a call.
//
// Positional slots, including *spread, are rendered. Keyword slots, both
// name=value and **spread, are omitted.
func (v *pythonVisitor) renderArguments(args *sitter.Node) string {
	if args == nil {
		return ""
	}
	// f(x for x in xs) carries a bare generator as its only argument.
	if args.Type() == "generator_expression" {
		return ExprPlaceholder
	}

	parts := make([]string, 0, args.NamedChildCount())
	count := int(args.NamedChildCount())
	for i := 0; i < count; i++ {
		arg := args.NamedChild(i)
		if arg == nil {
			continue
		}
		switch arg.Type() {
		case "comment", "keyword_argument", "dictionary_splat":
			continue
		}
		parts = append(parts, v.renderArgument(arg))
	}
	return strings.Join(parts, ", ")
}

// renderArgument renders one positional argument as a name, a constant or
// the placeholder.
func (v *pythonVisitor) renderArgument(arg *sitter.Node) string {
	arg = unwrapParens(arg)
	if arg == nil {
		return ExprPlaceholder
	}
	if arg.Type() == "identifier" {
		return v.text(arg)
	}
	if lit, ok := renderLiteral(arg, v.content); ok {
		return lit
	}
	return ExprPlaceholder
}

// recordAssignment adds assignment targets when the right-hand side is
// directly a call. Chained assignments contribute every target.
func (v *pythonVisitor) recordAssignment(node *sitter.Node) {
	targets := make([]string, 0, 2)
	current := node
	var value *sitter.Node
	for current != nil {
		targets = v.flattenTarget(current.ChildByFieldName("left"), targets)
		value = unwrapParens(current.ChildByFieldName("right"))
		if value == nil || value.Type() != "assignment" {
			break
		}
		current = value
	}

	if value == nil || value.Type() != "call" {
		return
	}

	callee, ok := v.calleeName(value)
	if !ok {
		return
	}
	v.result.Assignments.Add(callee, targets...)
}

// flattenTarget appends the destination names found in an assignment
// target. Unsupported shapes contribute nothing.
func (v *pythonVisitor) flattenTarget(target *sitter.Node, out []string) []string {
	target = unwrapParens(target)
	if target == nil {
		return out
	}

	switch target.Type() {
	case "identifier":
		return append(out, v.text(target))
	case "attribute", "subscript":
		if name, ok := v.renderTargetPath(target); ok {
			return append(out, name)
		}
		return out
	case "pattern_list", "tuple_pattern", "list_pattern", "tuple", "list", "expression_list",
		"list_splat_pattern", "list_splat":
		count := int(target.NamedChildCount())
		for i := 0; i < count; i++ {
			out = v.flattenTarget(target.NamedChild(i), out)
		}
		return out
	}

	v.logger.Debug("skipping unsupported assignment target",
		slog.String("file", v.filePath),
		slog.String("kind", target.Type()))
	return out
}

// renderTargetPath renders attribute and subscript chains as "base.attr"
// and "base[...]".
func (v *pythonVisitor) renderTargetPath(node *sitter.Node) (string, bool) {
	node = unwrapParens(node)
	if node == nil {
		return "", false
	}

	switch node.Type() {
	case "identifier":
		return v.text(node), true
	case "attribute":
		base, ok := v.renderTargetPath(node.ChildByFieldName("object"))
		attr := node.ChildByFieldName("attribute")
		if !ok || attr == nil {
			return "", false
		}
		return base + "." + v.text(attr), true
	case "subscript":
		base, ok := v.renderTargetPath(node.ChildByFieldName("value"))
		if !ok {
			return "", false
		}
		return base + "[...]", true
	}
	return "", false
}

func (v *pythonVisitor) text(node *sitter.Node) string {
	return string(v.content[node.StartByte():node.EndByte()])
}

// unwrapParens strips any number of enclosing parentheses.
func unwrapParens(node *sitter.Node) *sitter.Node {
	for node != nil && node.Type() == "parenthesized_expression" {
		var inner *sitter.Node
		count := int(node.NamedChildCount())
		for i := 0; i < count; i++ {
			child := node.NamedChild(i)
			if child != nil && child.Type() != "comment" {
				inner = child
				break
			}
		}
		node = inner
	}
	return node
}

// sameNode reports whether a and b denote the same syntax node.
func sameNode(a, b *sitter.Node) bool {
	return a.StartByte() == b.StartByte() &&
		a.EndByte() == b.EndByte() &&
		a.Type() == b.Type()
}

// firstSyntaxError finds the first ERROR or missing node in document order
// and converts it to a *ParseError. It also rejects constructs the grammar
// accepts but Python 3 does not. Returns nil for a valid tree.
func firstSyntaxError(root *sitter.Node, content []byte, filePath string) *ParseError {
	stack := []*sitter.Node{root}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if node == nil {
			continue
		}

		if node.IsMissing() {
			p := node.StartPoint()
			return NewParseError(filePath, int(p.Row)+1, int(p.Column)+1,
				fmt.Sprintf("invalid syntax: missing %q", node.Type()))
		}
		if node.Type() == "ERROR" {
			p := node.StartPoint()
			return NewParseError(filePath, int(p.Row)+1, int(p.Column)+1, "invalid syntax")
		}
		if msg, bad := rejectedConstruct(node, content); bad {
			p := node.StartPoint()
			return NewParseError(filePath, int(p.Row)+1, int(p.Column)+1, msg)
		}

		for i := int(node.ChildCount()) - 1; i >= 0; i-- {
			stack = append(stack, node.Child(i))
		}
	}
	if root.HasError() {
		return NewParseError(filePath, 0, 0, "invalid syntax")
	}
	return nil
}

// rejectedConstruct reports nodes that parse under the grammar but are
// syntax errors in Python 3.
func rejectedConstruct(node *sitter.Node, content []byte) (string, bool) {
	switch node.Type() {
	case "string":
		return stringEscapeError(string(content[node.StartByte():node.EndByte()]))
	case "print_statement":
		return "Missing parentheses in call to 'print'", true
	case "exec_statement":
		return "Missing parentheses in call to 'exec'", true
	case "delete_statement":
		for _, target := range namedNonComment(node) {
			if deletesCall(target) {
				return "cannot delete function call", true
			}
		}
	case "argument_list":
		return argumentListError(node)
	}
	return "", false
}

func deletesCall(target *sitter.Node) bool {
	target = unwrapParens(target)
	if target == nil {
		return false
	}
	switch target.Type() {
	case "call":
		return true
	case "expression_list", "tuple", "list":
		for _, t := range namedNonComment(target) {
			if deletesCall(t) {
				return true
			}
		}
	}
	return false
}

// argumentListError checks argument ordering: no positional argument after
// a keyword argument or **spread, and no *spread after a **spread.
func argumentListError(args *sitter.Node) (string, bool) {
	sawKeyword, sawDictSplat := false, false
	for _, arg := range namedNonComment(args) {
		switch arg.Type() {
		case "keyword_argument":
			sawKeyword = true
		case "dictionary_splat":
			sawDictSplat = true
		case "list_splat", "parenthesized_list_splat":
			if sawDictSplat {
				return "iterable argument unpacking follows keyword argument unpacking", true
			}
		default:
			if sawDictSplat {
				return "positional argument follows keyword argument unpacking", true
			}
			if sawKeyword {
				return "positional argument follows keyword argument", true
			}
		}
	}
	return "", false
}

// Compile-time interface compliance check.
var _ Walker = (*PythonWalker)(nil)
