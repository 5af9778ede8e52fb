package parser

import (
	"archive/zip"
	"fmt"
	"html"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/tealeg/xlsx"
	"github.com/xuri/excelize/v2"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

// ReadDocument returns the text of the file at path. Office, pdf and
// markdown files are reduced to plain text; everything else is read as
// utf-8.
func ReadDocument(filePath string) (string, error) {
	var (
		content string
		err     error
	)
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".pdf":
		content, err = parsePDF(filePath)
	case ".docx":
		content, err = parseDOCX(filePath)
	case ".pptx":
		content, err = parsePPTX(filePath)
	case ".xlsx":
		content, err = parseXLSX(filePath)
	case ".xlsm", ".xltx", ".xltm":
		content, err = parseWorkbook(filePath)
	case ".md", ".markdown":
		content, err = parseMarkdown(filePath)
	default:
		content, err = parseText(filePath)
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", filepath.Base(filePath), err)
	}
	return content, nil
}

func parsePDF(filePath string) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return "", err
	}

	reader, err := pdf.NewReader(f, stat.Size())
	if err != nil {
		return "", err
	}

	pages := make([]string, 0, reader.NumPage())
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return "", err
		}
		if pageText = strings.TrimSpace(pageText); pageText != "" {
			pages = append(pages, pageText)
		}
	}
	return strings.Join(pages, "\n\n"), nil
}

func parseDOCX(filePath string) (string, error) {
	r, err := docx.ReadDocxFile(filePath)
	if err != nil {
		return "", err
	}
	defer r.Close()

	return extractTextFromXML(r.Editable().GetContent(), "w:t", "</w:p>"), nil
}

func parsePPTX(filePath string) (string, error) {
	f, err := zip.OpenReader(filePath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var slides []*zip.File
	for _, file := range f.File {
		if strings.HasPrefix(file.Name, "ppt/slides/slide") && strings.HasSuffix(file.Name, ".xml") {
			slides = append(slides, file)
		}
	}
	sort.Slice(slides, func(i, j int) bool {
		return slideNumber(slides[i].Name) < slideNumber(slides[j].Name)
	})

	var parts []string
	for _, file := range slides {
		rc, err := file.Open()
		if err != nil {
			return "", err
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return "", err
		}
		if slideText := extractTextFromXML(string(data), "a:t", "</a:p>"); slideText != "" {
			parts = append(parts, slideText)
		}
	}
	return strings.Join(parts, "\n\n"), nil
}

func slideNumber(name string) int {
	n, _ := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, "ppt/slides/slide"), ".xml"))
	return n
}

func parseXLSX(filePath string) (string, error) {
	f, err := xlsx.OpenFile(filePath)
	if err != nil {
		return "", err
	}

	var sheets []string
	for _, sheet := range f.Sheets {
		rows := make([][]string, 0, len(sheet.Rows))
		for _, row := range sheet.Rows {
			cells := make([]string, 0, len(row.Cells))
			for _, cell := range row.Cells {
				cells = append(cells, cell.String())
			}
			rows = append(rows, cells)
		}
		sheets = append(sheets, sheetText(sheet.Name, rows))
	}
	return strings.Join(sheets, "\n\n"), nil
}

func parseWorkbook(filePath string) (string, error) {
	f, err := excelize.OpenFile(filePath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var sheets []string
	for _, sheetName := range f.GetSheetList() {
		rows, err := f.GetRows(sheetName)
		if err != nil {
			return "", err
		}
		sheets = append(sheets, sheetText(sheetName, rows))
	}
	return strings.Join(sheets, "\n\n"), nil
}

// one line per row, so list-style sheets can be split on lines
func sheetText(name string, rows [][]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Sheet: %s", name)
	for _, row := range rows {
		line := strings.TrimSpace(strings.Join(row, "\t"))
		if line == "" {
			continue
		}
		b.WriteString("\n")
		b.WriteString(line)
	}
	return b.String()
}

func parseMarkdown(filePath string) (string, error) {
	src, err := os.ReadFile(filePath)
	if err != nil {
		return "", err
	}
	return markdownToText(src)
}

// markdownToText drops markdown syntax and keeps one blank line between blocks.
func markdownToText(src []byte) (string, error) {
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	doc := md.Parser().Parse(text.NewReader(src))

	var b strings.Builder
	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			switch n.(type) {
			case *ast.Paragraph, *ast.Heading, *ast.TextBlock, *ast.CodeBlock, *ast.FencedCodeBlock:
				b.WriteString("\n\n")
			case *east.TableCell:
				b.WriteString("\t")
			case *east.TableHeader, *east.TableRow:
				b.WriteString("\n")
			case *east.Table:
				b.WriteString("\n")
			}
			return ast.WalkContinue, nil
		}

		switch node := n.(type) {
		case *ast.Text:
			b.Write(node.Segment.Value(src))
			if node.SoftLineBreak() || node.HardLineBreak() {
				b.WriteString("\n")
			}
		case *ast.String:
			b.Write(node.Value)
		case *ast.CodeBlock, *ast.FencedCodeBlock:
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				b.Write(seg.Value(src))
			}
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(paragraphRe.ReplaceAllString(b.String(), "\n\n")), nil
}

func parseText(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", err
	}
	return strings.ToValidUTF8(string(data), "�"), nil
}

// extractTextFromXML joins the contents of every <tag> element, starting a
// new line at each paragraph end marker.
func extractTextFromXML(xmlContent, tag, paragraphEnd string) string {
	var out strings.Builder
	open, closing := "<"+tag, "</"+tag+">"
	for _, para := range strings.Split(xmlContent, paragraphEnd) {
		var line strings.Builder
		rest := para
		for {
			start := strings.Index(rest, open)
			if start < 0 {
				break
			}
			rest = rest[start+len(open):]
			// skip <w:tab/>, <w:tbl> and friends that share the prefix
			if len(rest) == 0 || (rest[0] != '>' && rest[0] != ' ') {
				continue
			}
			gt := strings.IndexByte(rest, '>')
			if gt < 0 {
				break
			}
			rest = rest[gt+1:]
			end := strings.Index(rest, closing)
			if end < 0 {
				break
			}
			line.WriteString(html.UnescapeString(rest[:end]))
			rest = rest[end+len(closing):]
		}
		if s := strings.TrimSpace(line.String()); s != "" {
			if out.Len() > 0 {
				out.WriteString("\n")
			}
			out.WriteString(s)
		}
	}
	return out.String()
}
