package curve

// term 是 feed 原始字段名与展示标签的对应关系。
type term struct {
	field string
	label string
}

// 固定的 12 个期限，顺序即展示顺序。
var terms = [...]term{
	{"BC_1MONTH", "1 Mo"},
	{"BC_2MONTH", "2 Mo"},
	{"BC_3MONTH", "3 Mo"},
	{"BC_6MONTH", "6 Mo"},
	{"BC_1YEAR", "1 Yr"},
	{"BC_2YEAR", "2 Yr"},
	{"BC_3YEAR", "3 Yr"},
	{"BC_5YEAR", "5 Yr"},
	{"BC_7YEAR", "7 Yr"},
	{"BC_10YEAR", "10 Yr"},
	{"BC_20YEAR", "20 Yr"},
	{"BC_30YEAR", "30 Yr"},
}

// Terms returns the twelve term labels in canonical order.
func Terms() []string {
	out := make([]string, len(terms))
	for i, t := range terms {
		out[i] = t.label
	}
	return out
}

// IsTerm reports whether label is one of the known terms.
func IsTerm(label string) bool {
	for _, t := range terms {
		if t.label == label {
			return true
		}
	}
	return false
}
