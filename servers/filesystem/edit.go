package filesystem

import (
	"fmt"
	"slices"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// applyEdits applies edits in order. An edit first looks for its exact text, then for a block of
// lines that matches once surrounding whitespace is ignored, in which case the replacement takes
// the indentation of the matched block.
func applyEdits(content string, edits []EditOperation) (string, error) {
	out := normalizeLineEndings(content)

	for i, edit := range edits {
		oldText := normalizeLineEndings(edit.OldText)
		newText := normalizeLineEndings(edit.NewText)
		if oldText == "" {
			return "", fmt.Errorf("edit %d has an empty oldText", i+1)
		}

		if strings.Contains(out, oldText) {
			out = strings.Replace(out, oldText, newText, 1)
			continue
		}

		replaced, ok := replaceLooseBlock(out, oldText, newText)
		if !ok {
			return "", fmt.Errorf("could not find exact match for edit:\n%s", edit.OldText)
		}
		out = replaced
	}

	return out, nil
}

func replaceLooseBlock(content, oldText, newText string) (string, bool) {
	lines := strings.Split(content, "\n")
	oldLines := strings.Split(oldText, "\n")

	for start := 0; start+len(oldLines) <= len(lines); start++ {
		if !sameTrimmed(lines[start:start+len(oldLines)], oldLines) {
			continue
		}
		newLines := reindent(strings.Split(newText, "\n"), leadingWhitespace(lines[start]))
		out := slices.Concat(lines[:start], newLines, lines[start+len(oldLines):])
		return strings.Join(out, "\n"), true
	}
	return content, false
}

func sameTrimmed(a, b []string) bool {
	for i := range b {
		if strings.TrimSpace(a[i]) != strings.TrimSpace(b[i]) {
			return false
		}
	}
	return true
}

// reindent moves lines under indent, keeping their indentation relative to the first line.
func reindent(lines []string, indent string) []string {
	base := leadingWhitespace(lines[0])
	out := make([]string, len(lines))
	for i, line := range lines {
		switch {
		case strings.TrimSpace(line) == "":
			out[i] = ""
		case strings.HasPrefix(line, base):
			out[i] = indent + strings.TrimPrefix(line, base)
		default:
			out[i] = indent + strings.TrimLeft(line, " \t")
		}
	}
	return out
}

func leadingWhitespace(s string) string {
	return s[:len(s)-len(strings.TrimLeft(s, " \t"))]
}

func normalizeLineEndings(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.ReplaceAll(text, "\r", "\n")
}

// diffContext is the number of unchanged lines kept around each change.
const diffContext = 3

type diffLine struct {
	op   diffmatchpatch.Operation
	text string
}

// unifiedDiff renders the line changes from before to after as unified diff hunks, fenced so it
// survives markdown rendering whatever the file holds.
func unifiedDiff(path, before, after string) string {
	dmp := diffmatchpatch.New()
	a, b, lineArray := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lineArray)

	var lines []diffLine
	for _, d := range diffs {
		for _, text := range strings.SplitAfter(d.Text, "\n") {
			if text != "" {
				lines = append(lines, diffLine{op: d.Type, text: text})
			}
		}
	}

	var diff strings.Builder
	fmt.Fprintf(&diff, "--- %s (original)\n", path)
	fmt.Fprintf(&diff, "+++ %s (modified)\n", path)
	for _, h := range diffHunks(lines) {
		writeHunk(&diff, lines, h[0], h[1])
	}

	fence := "```"
	for strings.Contains(diff.String(), fence) {
		fence += "`"
	}
	return fmt.Sprintf("%sdiff\n%s%s\n", fence, diff.String(), fence)
}

// diffHunks returns the [start, end) ranges of lines to print. Changes separated by at most twice
// the context share a hunk.
func diffHunks(lines []diffLine) [][2]int {
	var hunks [][2]int
	for i := 0; i < len(lines); i++ {
		if lines[i].op == diffmatchpatch.DiffEqual {
			continue
		}
		last := i
		for j := i + 1; j < len(lines) && j-last <= 2*diffContext; j++ {
			if lines[j].op != diffmatchpatch.DiffEqual {
				last = j
			}
		}
		hunks = append(hunks, [2]int{max(0, i-diffContext), min(len(lines), last+diffContext+1)})
		i = last
	}
	return hunks
}

func writeHunk(w *strings.Builder, lines []diffLine, start, end int) {
	var oldStart, newStart, oldCount, newCount int
	for _, l := range lines[:start] {
		if l.op != diffmatchpatch.DiffInsert {
			oldStart++
		}
		if l.op != diffmatchpatch.DiffDelete {
			newStart++
		}
	}
	for _, l := range lines[start:end] {
		if l.op != diffmatchpatch.DiffInsert {
			oldCount++
		}
		if l.op != diffmatchpatch.DiffDelete {
			newCount++
		}
	}
	fmt.Fprintf(w, "@@ -%s +%s @@\n", hunkRange(oldStart, oldCount), hunkRange(newStart, newCount))

	for _, l := range lines[start:end] {
		switch l.op {
		case diffmatchpatch.DiffDelete:
			w.WriteByte('-')
		case diffmatchpatch.DiffInsert:
			w.WriteByte('+')
		default:
			w.WriteByte(' ')
		}
		w.WriteString(l.text)
		if !strings.HasSuffix(l.text, "\n") {
			w.WriteString("\n\\ No newline at end of file\n")
		}
	}
}

// hunkRange formats a hunk side the way diff -u does: an empty side names the line before it.
func hunkRange(before, count int) string {
	switch count {
	case 0:
		return fmt.Sprintf("%d,0", before)
	case 1:
		return fmt.Sprintf("%d", before+1)
	default:
		return fmt.Sprintf("%d,%d", before+1, count)
	}
}
