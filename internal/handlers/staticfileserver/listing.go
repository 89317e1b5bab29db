package staticfileserver

import (
	"fmt"
	"html"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"

	"example.com/dirserve/internal/config"
)

const (
	listingTimeFormat = "02-Jan-2006 15:04"
	plainNameColumn   = 50
	plainSizeWidth    = 19
)

// DirEntry is the metadata of one directory entry, collected per listing.
type DirEntry struct {
	Name    string
	IsDir   bool
	Size    uint64
	ModTime time.Time
}

// ReadDir enumerates dir. Symlinks are described by their target when it
// exists; entries that disappear during enumeration are skipped.
func ReadDir(dir string) ([]DirEntry, error) {
	des, err := os.ReadDir(dir)
	if err != nil {
		return nil, &Error{Kind: KindFilesystem, Op: "readdir", Path: dir, Err: err}
	}

	entries := make([]DirEntry, 0, len(des))
	for _, de := range des {
		info, err := de.Info()
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, &Error{Kind: KindFilesystem, Op: "readdir", Path: filepath.Join(dir, de.Name()), Err: err}
		}
		if info.Mode()&fs.ModeSymlink != 0 {
			if target, err := os.Stat(filepath.Join(dir, de.Name())); err == nil {
				info = target
			}
		}

		var size uint64
		if !info.IsDir() && info.Size() > 0 {
			size = uint64(info.Size())
		}
		entries = append(entries, DirEntry{
			Name:    de.Name(),
			IsDir:   info.IsDir(),
			Size:    size,
			ModTime: info.ModTime(),
		})
	}
	return entries, nil
}

// SortEntries orders entries by name, case-insensitively, keeping the
// enumeration order for names that compare equal.
func SortEntries(entries []DirEntry) {
	slices.SortStableFunc(entries, func(a, b DirEntry) int {
		return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
	})
}

// Render produces the HTML index for requestPath. The input slice is not modified.
func Render(requestPath string, entries []DirEntry, mode config.RenderMode) string {
	sorted := slices.Clone(entries)
	SortEntries(sorted)

	title := html.EscapeString("Index of /" + strings.TrimLeft(requestPath, "/"))
	base := hrefBase(requestPath)

	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"><title>")
	b.WriteString(title)
	b.WriteString("</title>")

	switch mode {
	case config.RenderModeStyled:
		renderStyled(&b, title, base, sorted)
	default:
		renderPlain(&b, title, base, sorted)
	}

	b.WriteString("</body></html>\n")
	return b.String()
}

func renderPlain(b *strings.Builder, title, base string, entries []DirEntry) {
	fmt.Fprintf(b, "</head>\n<body>\n<h1>%s</h1><hr><pre><a href=\"../\">../</a>\n", title)
	for _, e := range entries {
		display := displayName(e)
		pad := plainNameColumn - utf8.RuneCountInString(display)
		if pad < 0 {
			pad = 0
		}
		size := "-"
		if !e.IsDir {
			size = FormatPlainSize(e.Size)
		}
		fmt.Fprintf(b, "<a href=\"%s\">%s</a>%s %s %*s\n",
			entryHref(base, e), html.EscapeString(display), strings.Repeat(" ", pad),
			e.ModTime.Local().Format(listingTimeFormat), plainSizeWidth, size)
	}
	b.WriteString("</pre><hr>")
}

const styledCSS = `<style>
body { font-family: sans-serif; margin: 2em; }
table { border-collapse: collapse; min-width: 40em; }
th, td { padding: 0.3em 0.8em; text-align: left; }
th { border-bottom: 2px solid #ccc; }
td.size { text-align: right; }
tr.odd { background-color: #f4f4f4; }
tr.even { background-color: #ffffff; }
a { text-decoration: none; color: #0645ad; }
a:hover { text-decoration: underline; }
</style>`

func renderStyled(b *strings.Builder, title, base string, entries []DirEntry) {
	b.WriteString(styledCSS)
	fmt.Fprintf(b, "</head>\n<body>\n<h1>%s</h1>\n<table>\n<thead><tr><th>Name</th><th>Last Modified</th><th>Size</th></tr></thead>\n<tbody>\n", title)
	b.WriteString("<tr class=\"even\"><td><a href=\"../\">../</a></td><td>-</td><td class=\"size\">-</td></tr>\n")
	for i, e := range entries {
		class := "odd"
		if (i+1)%2 == 0 {
			class = "even"
		}
		sizeCell := `<td class="size">-</td>`
		if !e.IsDir {
			sizeCell = fmt.Sprintf(`<td class="size" title="%s bytes">%s</td>`,
				humanize.Comma(int64(e.Size)), FormatStyledSize(e.Size))
		}
		fmt.Fprintf(b, "<tr class=\"%s\"><td><a href=\"%s\">%s</a></td><td>%s</td>%s</tr>\n",
			class, entryHref(base, e), html.EscapeString(displayName(e)),
			e.ModTime.Local().Format(listingTimeFormat), sizeCell)
	}
	b.WriteString("</tbody>\n</table>\n")
}

func displayName(e DirEntry) string {
	if e.IsDir {
		return e.Name + "/"
	}
	return e.Name
}

// hrefBase returns the escaped absolute URL prefix for entries of requestPath,
// always ending in "/".
func hrefBase(requestPath string) string {
	var b strings.Builder
	b.WriteByte('/')
	for _, seg := range strings.Split(requestPath, "/") {
		if seg == "" {
			continue
		}
		b.WriteString(url.PathEscape(seg))
		b.WriteByte('/')
	}
	return b.String()
}

func entryHref(base string, e DirEntry) string {
	href := base + url.PathEscape(e.Name)
	if e.IsDir {
		href += "/"
	}
	return html.EscapeString(href)
}

// FormatPlainSize renders a size for the plain listing: raw bytes up to 9999,
// then K, M or G rounded half-up.
func FormatPlainSize(size uint64) string {
	switch {
	case size <= 9999:
		return strconv.FormatUint(size, 10)
	case size <= 1048575:
		return strconv.FormatUint((size+512)/1024, 10) + "K"
	case size <= 1073741823:
		return strconv.FormatUint((size+524288)/1048576, 10) + "M"
	default:
		return strconv.FormatUint((size+536870912)/1073741824, 10) + "G"
	}
}

var styledUnits = []string{"B", "KB", "MB", "GB"}

// FormatStyledSize renders a size in the largest unit that keeps the value >= 1,
// with one decimal place.
func FormatStyledSize(size uint64) string {
	v := float64(size)
	i := 0
	for v >= 1024 && i < len(styledUnits)-1 {
		v /= 1024
		i++
	}
	// 1023.95 and up would print as "1024.0".
	if v >= 1023.95 && i < len(styledUnits)-1 {
		v /= 1024
		i++
	}
	return fmt.Sprintf("%.1f %s", v, styledUnits[i])
}
