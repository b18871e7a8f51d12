package tools

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strconv"

	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"
)

const (
	// maxExpressionLen caps input size before parsing.
	maxExpressionLen = 200
	// maxEvalDepth caps expression tree depth.
	maxEvalDepth = 50
	// maxPowBase and maxPowExponent guard the power operation against
	// computational blowup.
	maxPowBase     = 1000.0
	maxPowExponent = 100.0
	// maxMagnitude caps every intermediate result.
	maxMagnitude = 1e100
)

// allowedExpression is the input allow-list: digits, arithmetic
// operators, decimal points, parentheses, and whitespace. Anything
// else, identifiers included, is rejected before parsing.
var allowedExpression = regexp.MustCompile(`^[0-9+\-*/%.()\s]+$`)

// Calculator returns the arithmetic evaluation tool.
func Calculator() *Tool {
	return &Tool{
		Name:        "calculator",
		Description: "Evaluate mathematical expressions. Supports basic arithmetic operations (+, -, *, /, %, **), parentheses, and decimal numbers.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"expression": map[string]any{
					"type":        "string",
					"description": "Mathematical expression to evaluate, e.g., '2 + 2' or '(10 * 5) / 2'",
				},
			},
			"required": []string{"expression"},
		},
		Run: func(ctx context.Context, args map[string]any) string {
			expression, ok := stringArg(args, "expression")
			if !ok {
				return "Error: expression must be a string"
			}
			result, err := Evaluate(expression)
			if err != nil {
				return fmt.Sprintf("Error: %v", err)
			}
			return strconv.FormatFloat(result, 'g', -1, 64)
		},
	}
}

// Evaluate parses and evaluates an arithmetic expression. The input is
// character-allow-listed, parsed into an expression tree, and walked
// with an explicit operator allow-list and guards against deep nesting,
// power blowup, division by zero, and magnitude overflow. It returns a
// float result or a descriptive error, never panics.
func Evaluate(expression string) (float64, error) {
	if expression == "" {
		return 0, fmt.Errorf("expression is empty")
	}
	if len(expression) > maxExpressionLen {
		return 0, fmt.Errorf("expression exceeds %d characters", maxExpressionLen)
	}
	if !allowedExpression.MatchString(expression) {
		return 0, fmt.Errorf("expression contains invalid characters")
	}

	tree, err := parser.Parse(expression)
	if err != nil {
		return 0, fmt.Errorf("invalid expression: %v", err)
	}
	return evalNode(tree.Node, 0)
}

func evalNode(node ast.Node, depth int) (float64, error) {
	if depth > maxEvalDepth {
		return 0, fmt.Errorf("expression is too deeply nested")
	}

	switch n := node.(type) {
	case *ast.IntegerNode:
		return float64(n.Value), nil
	case *ast.FloatNode:
		return n.Value, nil
	case *ast.UnaryNode:
		operand, err := evalNode(n.Node, depth+1)
		if err != nil {
			return 0, err
		}
		switch n.Operator {
		case "+":
			return operand, nil
		case "-":
			return -operand, nil
		default:
			return 0, fmt.Errorf("unsupported operator %q", n.Operator)
		}
	case *ast.BinaryNode:
		left, err := evalNode(n.Left, depth+1)
		if err != nil {
			return 0, err
		}
		right, err := evalNode(n.Right, depth+1)
		if err != nil {
			return 0, err
		}
		return applyBinary(n.Operator, left, right)
	default:
		return 0, fmt.Errorf("unsupported expression element")
	}
}

func applyBinary(op string, left, right float64) (float64, error) {
	var result float64
	switch op {
	case "+":
		result = left + right
	case "-":
		result = left - right
	case "*":
		result = left * right
	case "/":
		if right == 0 {
			return 0, fmt.Errorf("division by zero")
		}
		result = left / right
	case "%":
		if right == 0 {
			return 0, fmt.Errorf("modulo by zero")
		}
		result = math.Mod(left, right)
	case "**", "^":
		if math.Abs(left) > maxPowBase {
			return 0, fmt.Errorf("power base magnitude exceeds %g", maxPowBase)
		}
		if math.Abs(right) > maxPowExponent {
			return 0, fmt.Errorf("power exponent magnitude exceeds %g", maxPowExponent)
		}
		result = math.Pow(left, right)
	default:
		return 0, fmt.Errorf("unsupported operator %q", op)
	}

	if math.IsNaN(result) || math.IsInf(result, 0) || math.Abs(result) > maxMagnitude {
		return 0, fmt.Errorf("result magnitude exceeds limit")
	}
	return result, nil
}
