package service

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Annotate 给大纲片段里的可导航元素打上机器可读的定位属性：
// data-title = 元素的可见文本，data-parent = 所属章节标题，
// 外加 navigable 类。前端点击时凭这些属性反查树节点，不用重新解析文案。
// 幂等：重复执行产生相同的属性；不改动任何可见文本。
// 只作用于大纲类片段，笔记/测验/追问原样返回。
func Annotate(fragment string, kind GenerationKind) (string, error) {
	if kind != KindOutline && kind != KindSubOutline {
		return fragment, nil
	}

	nodes, err := parseFragment(fragment)
	if err != nil {
		return "", err
	}

	currentHeading := ""
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.H2:
				title := strings.TrimSpace(nodeText(n))
				setAttr(n, "data-title", title)
				ensureClass(n, "navigable")
				currentHeading = title
			case atom.Li:
				setAttr(n, "data-title", strings.TrimSpace(nodeText(n)))
				if currentHeading != "" {
					setAttr(n, "data-parent", currentHeading)
				}
				ensureClass(n, "navigable")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range nodes {
		walk(n)
	}

	return renderFragment(nodes)
}

func parseFragment(fragment string) ([]*html.Node, error) {
	ctx := &html.Node{
		Type:     html.ElementNode,
		Data:     "div",
		DataAtom: atom.Div,
	}
	return html.ParseFragment(strings.NewReader(fragment), ctx)
}

func renderFragment(nodes []*html.Node) (string, error) {
	var sb strings.Builder
	for _, n := range nodes {
		if err := html.Render(&sb, n); err != nil {
			return "", err
		}
	}
	return sb.String(), nil
}

// nodeText 收集子树的全部文本
func nodeText(n *html.Node) string {
	var sb strings.Builder
	var collect func(*html.Node)
	collect = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			collect(c)
		}
	}
	collect(n)
	return sb.String()
}

func attrValue(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// setAttr 已存在则覆盖，保证幂等
func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

// ensureClass 类名缺失时追加，已有则不动
func ensureClass(n *html.Node, class string) {
	existing := attrValue(n, "class")
	for _, c := range strings.Fields(existing) {
		if c == class {
			return
		}
	}
	if existing == "" {
		setAttr(n, "class", class)
		return
	}
	setAttr(n, "class", existing+" "+class)
}
