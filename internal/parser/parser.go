// internal/parser/parser.go
package parser

import (
	"fmt"
	"strings"

	"compiscript/internal/ast"
	cerr "compiscript/internal/errors"
	"compiscript/internal/lexer"
	"compiscript/internal/types"
)

// Parser is a recursive-descent parser over the scanned token slice,
// producing the walkable tree the semantic analyzer consumes. Syntax
// errors are batched in Errors; the parser synchronizes at statement
// boundaries and keeps going.
type Parser struct {
	tokens      []lexer.Token
	current     int
	Errors      []*cerr.CompileError
	file        string
	sourceLines []string
}

func NewParser(tokens []lexer.Token) *Parser {
	return &Parser{
		tokens: tokens,
	}
}

func NewParserWithSource(tokens []lexer.Token, source, file string) *Parser {
	return &Parser{
		tokens:      tokens,
		file:        file,
		sourceLines: strings.Split(source, "\n"),
	}
}

// Parse consumes the whole token stream and returns the program. On a
// syntax error the current statement is abandoned and parsing resumes at
// the next statement keyword or semicolon.
func (p *Parser) Parse() *ast.Program {
	prog := &ast.Program{}
	for !p.isAtEnd() {
		stmt := p.declaration()
		if stmt != nil {
			prog.Stmts = append(prog.Stmts, stmt)
		}
	}
	return prog
}

func (p *Parser) declaration() (stmt ast.Stmt) {
	defer func() {
		if r := recover(); r != nil {
			err, ok := r.(*cerr.CompileError)
			if !ok {
				panic(r)
			}
			p.Errors = append(p.Errors, err)
			p.synchronize()
			stmt = nil
		}
	}()

	switch {
	case p.match(lexer.TokenFunction):
		return p.function()
	case p.match(lexer.TokenClass):
		return p.classDeclaration()
	default:
		return p.statement()
	}
}

func (p *Parser) statement() ast.Stmt {
	switch {
	case p.match(lexer.TokenLet):
		return p.letDeclaration()
	case p.match(lexer.TokenIf):
		return p.ifStatement()
	case p.match(lexer.TokenWhile):
		return p.whileStatement()
	case p.match(lexer.TokenDo):
		return p.doWhileStatement()
	case p.match(lexer.TokenFor):
		return p.forStatement()
	case p.match(lexer.TokenForeach):
		return p.foreachStatement()
	case p.match(lexer.TokenBreak):
		tok := p.previous()
		p.consume(lexer.TokenSemicolon, "Expect ';' after 'break'")
		return &ast.BreakStmt{Line: tok.Line, Col: tok.Col}
	case p.match(lexer.TokenContinue):
		tok := p.previous()
		p.consume(lexer.TokenSemicolon, "Expect ';' after 'continue'")
		return &ast.ContinueStmt{Line: tok.Line, Col: tok.Col}
	case p.match(lexer.TokenReturn):
		return p.returnStatement()
	case p.match(lexer.TokenPrint):
		return p.printStatement()
	case p.match(lexer.TokenLBrace):
		return &ast.BlockStmt{Stmts: p.blockStatements()}
	default:
		return p.expressionStatement()
	}
}

func (p *Parser) letDeclaration() ast.Stmt {
	nameTok := p.consume(lexer.TokenIdent, "Expect variable name")

	var declared *types.Type
	if p.match(lexer.TokenColon) {
		declared = p.parseType()
	}

	var init ast.Expr
	if p.match(lexer.TokenEqual) {
		init = p.expression()
	}
	p.consume(lexer.TokenSemicolon, "Expect ';' after variable declaration")

	return &ast.LetStmt{
		Name:     nameTok.Lexeme,
		Declared: declared,
		Init:     init,
		Line:     nameTok.Line,
		Col:      nameTok.Col,
	}
}

// parseType reads a type annotation: a base type name followed by any
// number of [] suffixes. Built-in names map to the scalar singletons;
// anything else is a class reference checked later by the analyzer.
func (p *Parser) parseType() *types.Type {
	nameTok := p.consume(lexer.TokenIdent, "Expect type name")
	var t *types.Type
	switch nameTok.Lexeme {
	case "integer":
		t = types.Integer
	case "float":
		t = types.Float
	case "boolean":
		t = types.Boolean
	case "string":
		t = types.String
	case "void":
		t = types.Void
	default:
		t = types.NewClass(nameTok.Lexeme)
	}
	for p.match(lexer.TokenLBracket) {
		p.consume(lexer.TokenRBracket, "Expect ']' in array type")
		t = types.NewArray(t)
	}
	return t
}

func (p *Parser) ifStatement() ast.Stmt {
	p.consume(lexer.TokenLParen, "Expect '(' after 'if'")
	cond := p.expression()
	p.consume(lexer.TokenRParen, "Expect ')' after if condition")
	p.consume(lexer.TokenLBrace, "Expect '{' after if condition")
	then := p.blockStatements()

	var els []ast.Stmt
	if p.match(lexer.TokenElse) {
		if p.match(lexer.TokenIf) {
			// else-if chains nest as a single-statement else branch
			els = []ast.Stmt{p.ifStatement()}
		} else {
			p.consume(lexer.TokenLBrace, "Expect '{' after 'else'")
			els = p.blockStatements()
		}
	}
	return &ast.IfStmt{Cond: cond, Then: then, Else: els}
}

func (p *Parser) whileStatement() ast.Stmt {
	p.consume(lexer.TokenLParen, "Expect '(' after 'while'")
	cond := p.expression()
	p.consume(lexer.TokenRParen, "Expect ')' after while condition")
	p.consume(lexer.TokenLBrace, "Expect '{' before while body")
	body := p.blockStatements()
	return &ast.WhileStmt{Cond: cond, Body: body}
}

func (p *Parser) doWhileStatement() ast.Stmt {
	p.consume(lexer.TokenLBrace, "Expect '{' after 'do'")
	body := p.blockStatements()
	p.consume(lexer.TokenWhile, "Expect 'while' after do body")
	p.consume(lexer.TokenLParen, "Expect '(' after 'while'")
	cond := p.expression()
	p.consume(lexer.TokenRParen, "Expect ')' after do-while condition")
	p.consume(lexer.TokenSemicolon, "Expect ';' after do-while")
	return &ast.DoWhileStmt{Body: body, Cond: cond}
}

func (p *Parser) forStatement() ast.Stmt {
	p.consume(lexer.TokenLParen, "Expect '(' after 'for'")

	var init ast.Stmt
	if p.match(lexer.TokenSemicolon) {
		init = nil
	} else if p.match(lexer.TokenLet) {
		init = p.letDeclaration()
	} else {
		init = p.expressionStatement()
	}

	var cond ast.Expr
	if !p.check(lexer.TokenSemicolon) {
		cond = p.expression()
	}
	p.consume(lexer.TokenSemicolon, "Expect ';' after for condition")

	var update ast.Stmt
	if !p.check(lexer.TokenRParen) {
		update = p.simpleStatement()
	}
	p.consume(lexer.TokenRParen, "Expect ')' after for clauses")
	p.consume(lexer.TokenLBrace, "Expect '{' before for body")
	body := p.blockStatements()

	return &ast.ForStmt{Init: init, Cond: cond, Update: update, Body: body}
}

func (p *Parser) foreachStatement() ast.Stmt {
	p.consume(lexer.TokenLParen, "Expect '(' after 'foreach'")
	varTok := p.consume(lexer.TokenIdent, "Expect iteration variable")
	p.consume(lexer.TokenIn, "Expect 'in' after iteration variable")
	coll := p.expression()
	p.consume(lexer.TokenRParen, "Expect ')' after foreach collection")
	p.consume(lexer.TokenLBrace, "Expect '{' before foreach body")
	body := p.blockStatements()
	return &ast.ForeachStmt{
		Var:        varTok.Lexeme,
		Collection: coll,
		Body:       body,
		Line:       varTok.Line,
		Col:        varTok.Col,
	}
}

func (p *Parser) returnStatement() ast.Stmt {
	tok := p.previous()
	var value ast.Expr
	if !p.check(lexer.TokenSemicolon) {
		value = p.expression()
	}
	p.consume(lexer.TokenSemicolon, "Expect ';' after return")
	return &ast.ReturnStmt{Value: value, Line: tok.Line, Col: tok.Col}
}

func (p *Parser) printStatement() ast.Stmt {
	tok := p.previous()
	p.consume(lexer.TokenLParen, "Expect '(' after 'print'")
	expr := p.expression()
	p.consume(lexer.TokenRParen, "Expect ')' after print argument")
	p.consume(lexer.TokenSemicolon, "Expect ';' after print")
	return &ast.PrintStmt{Expr: expr, Line: tok.Line, Col: tok.Col}
}

// expressionStatement parses either an assignment or a bare expression,
// terminated by ';'.
func (p *Parser) expressionStatement() ast.Stmt {
	stmt := p.simpleStatement()
	p.consume(lexer.TokenSemicolon, "Expect ';' after statement")
	return stmt
}

// simpleStatement is the unterminated form shared with for-loop clauses:
// `target = value` or a bare expression.
func (p *Parser) simpleStatement() ast.Stmt {
	expr := p.expression()
	if p.match(lexer.TokenEqual) {
		eq := p.previous()
		value := p.expression()
		return &ast.AssignStmt{Target: expr, Value: value, Line: eq.Line, Col: eq.Col}
	}
	return &ast.ExprStmt{Expr: expr}
}

func (p *Parser) blockStatements() []ast.Stmt {
	var stmts []ast.Stmt
	for !p.check(lexer.TokenRBrace) && !p.isAtEnd() {
		stmts = append(stmts, p.declaration())
	}
	p.consume(lexer.TokenRBrace, "Expect '}' after block")
	return stmts
}

func (p *Parser) function() *ast.FunctionDecl {
	nameTok := p.consume(lexer.TokenIdent, "Expect function name")
	p.consume(lexer.TokenLParen, "Expect '(' after function name")

	var params []ast.Param
	if !p.check(lexer.TokenRParen) {
		params = append(params, p.parameter())
		for p.match(lexer.TokenComma) {
			params = append(params, p.parameter())
		}
	}
	p.consume(lexer.TokenRParen, "Expect ')' after parameters")

	ret := types.Void
	if p.match(lexer.TokenColon) {
		ret = p.parseType()
	}

	p.consume(lexer.TokenLBrace, "Expect '{' before function body")
	var body []ast.Stmt
	for !p.check(lexer.TokenRBrace) && !p.isAtEnd() {
		body = append(body, p.declaration())
	}
	p.consume(lexer.TokenRBrace, "Expect '}' after function body")

	return &ast.FunctionDecl{
		Name:   nameTok.Lexeme,
		Params: params,
		Return: ret,
		Body:   body,
		Line:   nameTok.Line,
		Col:    nameTok.Col,
	}
}

func (p *Parser) parameter() ast.Param {
	nameTok := p.consume(lexer.TokenIdent, "Expect parameter name")
	p.consume(lexer.TokenColon, "Expect ':' after parameter name")
	t := p.parseType()
	return ast.Param{Name: nameTok.Lexeme, Type: t, Line: nameTok.Line, Col: nameTok.Col}
}

func (p *Parser) classDeclaration() ast.Stmt {
	nameTok := p.consume(lexer.TokenIdent, "Expect class name")

	var super string
	if p.match(lexer.TokenExtends) {
		super = p.consume(lexer.TokenIdent, "Expect superclass name").Lexeme
	}

	p.consume(lexer.TokenLBrace, "Expect '{' before class body")

	decl := &ast.ClassDecl{
		Name:       nameTok.Lexeme,
		Superclass: super,
		Line:       nameTok.Line,
		Col:        nameTok.Col,
	}
	for !p.check(lexer.TokenRBrace) && !p.isAtEnd() {
		switch {
		case p.match(lexer.TokenVar):
			fieldTok := p.consume(lexer.TokenIdent, "Expect field name")
			p.consume(lexer.TokenColon, "Expect ':' after field name")
			t := p.parseType()
			p.consume(lexer.TokenSemicolon, "Expect ';' after field declaration")
			decl.Fields = append(decl.Fields, ast.FieldDecl{
				Name: fieldTok.Lexeme,
				Type: t,
				Line: fieldTok.Line,
				Col:  fieldTok.Col,
			})
		case p.match(lexer.TokenFunction):
			decl.Methods = append(decl.Methods, p.function())
		default:
			panic(p.errorAt(p.peek(), "Expect field or method declaration in class body"))
		}
	}
	p.consume(lexer.TokenRBrace, "Expect '}' after class body")
	return decl
}

// --- Expression parsing ---

func (p *Parser) expression() ast.Expr {
	return p.ternary()
}

func (p *Parser) ternary() ast.Expr {
	cond := p.or()
	if p.match(lexer.TokenQuestion) {
		qTok := p.previous()
		thenE := p.expression()
		p.consume(lexer.TokenColon, "Expect ':' in ternary expression")
		elseE := p.expression()
		return ast.At(&ast.Ternary{Cond: cond, Then: thenE, Else: elseE}, qTok.Line, qTok.Col)
	}
	return cond
}

func (p *Parser) or() ast.Expr {
	left := p.and()
	for p.match(lexer.TokenOr) {
		op := p.previous()
		right := p.and()
		left = ast.At(&ast.Logical{Left: left, Operator: "||", Right: right}, op.Line, op.Col)
	}
	return left
}

func (p *Parser) and() ast.Expr {
	left := p.equality()
	for p.match(lexer.TokenAnd) {
		op := p.previous()
		right := p.equality()
		left = ast.At(&ast.Logical{Left: left, Operator: "&&", Right: right}, op.Line, op.Col)
	}
	return left
}

func (p *Parser) equality() ast.Expr {
	left := p.comparison()
	for p.match(lexer.TokenDoubleEqual) || p.match(lexer.TokenNotEqual) {
		op := p.previous()
		right := p.comparison()
		left = ast.At(&ast.Binary{Left: left, Operator: op.Lexeme, Right: right}, op.Line, op.Col)
	}
	return left
}

func (p *Parser) comparison() ast.Expr {
	left := p.term()
	for p.match(lexer.TokenLT) || p.match(lexer.TokenLE) ||
		p.match(lexer.TokenGT) || p.match(lexer.TokenGE) {
		op := p.previous()
		right := p.term()
		left = ast.At(&ast.Binary{Left: left, Operator: op.Lexeme, Right: right}, op.Line, op.Col)
	}
	return left
}

func (p *Parser) term() ast.Expr {
	left := p.factor()
	for p.match(lexer.TokenPlus) || p.match(lexer.TokenMinus) {
		op := p.previous()
		right := p.factor()
		left = ast.At(&ast.Binary{Left: left, Operator: op.Lexeme, Right: right}, op.Line, op.Col)
	}
	return left
}

func (p *Parser) factor() ast.Expr {
	left := p.unary()
	for p.match(lexer.TokenStar) || p.match(lexer.TokenSlash) || p.match(lexer.TokenPercent) {
		op := p.previous()
		right := p.unary()
		left = ast.At(&ast.Binary{Left: left, Operator: op.Lexeme, Right: right}, op.Line, op.Col)
	}
	return left
}

func (p *Parser) unary() ast.Expr {
	if p.match(lexer.TokenNot) || p.match(lexer.TokenMinus) {
		op := p.previous()
		operand := p.unary()
		return ast.At(&ast.Unary{Operator: op.Lexeme, Operand: operand}, op.Line, op.Col)
	}
	return p.call()
}

// call parses a primary followed by any chain of call, field access and
// index suffixes: a.b, a.m(x), f(x), a[i][j].
func (p *Parser) call() ast.Expr {
	expr := p.primary()
	for {
		switch {
		case p.match(lexer.TokenLParen):
			expr = p.finishCall(expr)
		case p.match(lexer.TokenDot):
			nameTok := p.consume(lexer.TokenIdent, "Expect member name after '.'")
			if p.match(lexer.TokenLParen) {
				args := p.arguments()
				expr = ast.At(&ast.MethodCall{
					Object: expr,
					Method: nameTok.Lexeme,
					Args:   args,
				}, nameTok.Line, nameTok.Col)
			} else {
				expr = ast.At(&ast.GetField{Object: expr, Field: nameTok.Lexeme}, nameTok.Line, nameTok.Col)
			}
		case p.match(lexer.TokenLBracket):
			tok := p.previous()
			idx := p.expression()
			p.consume(lexer.TokenRBracket, "Expect ']' after index")
			expr = ast.At(&ast.Index{Object: expr, Index: idx}, tok.Line, tok.Col)
		default:
			return expr
		}
	}
}

func (p *Parser) finishCall(callee ast.Expr) ast.Expr {
	args := p.arguments()
	ident, ok := callee.(*ast.Identifier)
	if !ok {
		panic(p.errorAt(p.previous(), "Only named functions and methods can be called"))
	}
	line, col := ident.Pos()
	return ast.At(&ast.Call{Name: ident.Name, Args: args}, line, col)
}

// arguments parses a comma-separated argument list, consuming the closing
// ')'. The opening '(' is already consumed by the caller.
func (p *Parser) arguments() []ast.Expr {
	var args []ast.Expr
	if !p.check(lexer.TokenRParen) {
		args = append(args, p.expression())
		for p.match(lexer.TokenComma) {
			args = append(args, p.expression())
		}
	}
	p.consume(lexer.TokenRParen, "Expect ')' after arguments")
	return args
}

func (p *Parser) primary() ast.Expr {
	switch {
	case p.match(lexer.TokenInt):
		tok := p.previous()
		return ast.NewLiteral(ast.LitInt, tok.Lexeme, tok.Line, tok.Col)
	case p.match(lexer.TokenFloat):
		tok := p.previous()
		return ast.NewLiteral(ast.LitFloat, tok.Lexeme, tok.Line, tok.Col)
	case p.match(lexer.TokenString):
		tok := p.previous()
		return ast.NewLiteral(ast.LitString, `"`+tok.Lexeme+`"`, tok.Line, tok.Col)
	case p.match(lexer.TokenTrue):
		tok := p.previous()
		return ast.NewLiteral(ast.LitBool, "true", tok.Line, tok.Col)
	case p.match(lexer.TokenFalse):
		tok := p.previous()
		return ast.NewLiteral(ast.LitBool, "false", tok.Line, tok.Col)
	case p.match(lexer.TokenNull):
		tok := p.previous()
		return ast.NewLiteral(ast.LitNull, "null", tok.Line, tok.Col)
	case p.match(lexer.TokenThis):
		tok := p.previous()
		return ast.At(&ast.This{}, tok.Line, tok.Col)
	case p.match(lexer.TokenNew):
		nameTok := p.consume(lexer.TokenIdent, "Expect class name after 'new'")
		p.consume(lexer.TokenLParen, "Expect '(' after class name")
		p.consume(lexer.TokenRParen, "Expect ')' after class name")
		return ast.At(&ast.New{ClassName: nameTok.Lexeme}, nameTok.Line, nameTok.Col)
	case p.match(lexer.TokenIdent):
		tok := p.previous()
		return ast.NewIdentifier(tok.Lexeme, tok.Line, tok.Col)
	case p.match(lexer.TokenLBracket):
		return p.parseArrayLiteral()
	case p.match(lexer.TokenLParen):
		expr := p.expression()
		p.consume(lexer.TokenRParen, "Expect ')' after expression")
		return expr
	}
	panic(p.errorAt(p.peek(), "Expect expression"))
}

func (p *Parser) parseArrayLiteral() ast.Expr {
	tok := p.previous()
	var elements []ast.Expr
	if !p.check(lexer.TokenRBracket) {
		elements = append(elements, p.expression())
		for p.match(lexer.TokenComma) {
			elements = append(elements, p.expression())
		}
	}
	p.consume(lexer.TokenRBracket, "Expect ']' after array elements")
	return ast.At(&ast.ArrayLit{Elements: elements}, tok.Line, tok.Col)
}

// --- Utility methods ---

func (p *Parser) match(t lexer.TokenType) bool {
	if p.check(t) {
		p.advance()
		return true
	}
	return false
}

func (p *Parser) consume(t lexer.TokenType, msg string) lexer.Token {
	if p.check(t) {
		return p.advance()
	}
	panic(p.errorAt(p.peek(), msg))
}

func (p *Parser) errorAt(tok lexer.Token, msg string) *cerr.CompileError {
	got := tok.Lexeme
	if tok.Type == lexer.TokenEOF {
		got = "end of file"
	}
	err := cerr.New(cerr.SyntaxError, fmt.Sprintf("%s (got '%s')", msg, got), tok.Line, tok.Col)
	if p.file != "" {
		err = err.WithFile(p.file)
	}
	if p.sourceLines != nil && tok.Line > 0 && tok.Line <= len(p.sourceLines) {
		err = err.WithSource(p.sourceLines[tok.Line-1])
	}
	return err
}

// synchronize skips tokens until a likely statement boundary so one
// syntax error does not drown the rest of the file in noise.
func (p *Parser) synchronize() {
	if !p.isAtEnd() {
		p.advance()
	}
	for !p.isAtEnd() {
		if p.previous().Type == lexer.TokenSemicolon {
			return
		}
		switch p.peek().Type {
		case lexer.TokenLet, lexer.TokenFunction, lexer.TokenClass,
			lexer.TokenIf, lexer.TokenWhile, lexer.TokenDo, lexer.TokenFor,
			lexer.TokenForeach, lexer.TokenReturn, lexer.TokenPrint,
			lexer.TokenBreak, lexer.TokenContinue:
			return
		}
		p.advance()
	}
}

func (p *Parser) previous() lexer.Token {
	return p.tokens[p.current-1]
}

func (p *Parser) advance() lexer.Token {
	if !p.isAtEnd() {
		p.current++
	}
	return p.tokens[p.current-1]
}

func (p *Parser) check(t lexer.TokenType) bool {
	if p.isAtEnd() {
		return false
	}
	return p.peek().Type == t
}

func (p *Parser) peek() lexer.Token {
	return p.tokens[p.current]
}

func (p *Parser) isAtEnd() bool {
	return p.peek().Type == lexer.TokenEOF
}
