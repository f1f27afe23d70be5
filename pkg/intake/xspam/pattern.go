package xspam

import (
	"fmt"
	"regexp"
)

// DefaultPatterns 内置垃圾内容规则集，按顺序匹配。
// 顺序即优先级：代价低、误报少的规则在前。
var DefaultPatterns = []string{
	// 短链接服务，垃圾消息规避域名信誉的常用手段
	`(?i)\b(?:bit\.ly|tinyurl\.com|goo\.gl|t\.co|is\.gd|cutt\.ly|rb\.gy|shorturl\.at)/\S+`,
	// 连续 11 位以上数字，疑似嵌入的电话号码
	`\d{11,}`,
	// 推广话术
	`(?i)\b(?:free\s+money|earn\s+(?:cash|money)\s+fast|work\s+from\s+home|limited\s+time\s+offer|click\s+here|act\s+now|guaranteed\s+income)\b`,
	// 显式垃圾词
	`(?i)\b(?:viagra|casino\s+bonus|lottery\s+winner|jackpot|crypto\s+doubler|investment\s+opportunity)\b`,
}

// patternSet 预编译的有序规则集。
type patternSet struct {
	rules []*regexp.Regexp
}

// compilePatterns 编译规则集。exprs 为空时使用 DefaultPatterns。
func compilePatterns(exprs []string) (*patternSet, error) {
	if len(exprs) == 0 {
		exprs = DefaultPatterns
	}
	rules := make([]*regexp.Regexp, 0, len(exprs))
	for _, expr := range exprs {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrBadPattern, expr, err)
		}
		rules = append(rules, re)
	}
	return &patternSet{rules: rules}, nil
}

// match 返回首个命中的规则表达式。按序匹配，命中即短路。
func (p *patternSet) match(body string) (string, bool) {
	for _, re := range p.rules {
		if re.MatchString(body) {
			return re.String(), true
		}
	}
	return "", false
}
