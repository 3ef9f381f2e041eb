// Package jsonpath resolves the dotted/bracket paths used by agent configs
// (`response.text`, `data.items[0].value`) against raw JSON documents.
package jsonpath

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

var indexPattern = regexp.MustCompile(`\[(\d+)\]`)

// Normalize converts a config path into gjson/sjson syntax: a leading `$` root
// is dropped and bracket indexes become dotted segments.
func Normalize(path string) string {
	p := strings.TrimSpace(path)
	p = strings.TrimPrefix(p, "$")
	p = indexPattern.ReplaceAllString(p, ".$1")
	return strings.Trim(p, ".")
}

// Get resolves path in doc. The boolean reports whether a value is present.
func Get(doc []byte, path string) (gjson.Result, bool) {
	p := Normalize(path)
	if p == "" {
		return gjson.Result{}, false
	}
	r := gjson.GetBytes(doc, p)
	return r, r.Exists()
}

// Set writes value at path, creating intermediate objects as needed.
func Set(doc []byte, path string, value any) ([]byte, error) {
	return sjson.SetBytes(doc, Normalize(path), value)
}

// Leaf is a scalar value of a document together with its path.
type Leaf struct {
	Path  string
	Value gjson.Result
}

// Leaves returns every scalar leaf of doc in document order. Empty objects and
// arrays produce no leaves.
func Leaves(doc []byte) []Leaf {
	if !gjson.ValidBytes(doc) {
		return nil
	}
	var out []Leaf
	walk(gjson.ParseBytes(doc), "", &out)
	return out
}

func walk(node gjson.Result, prefix string, out *[]Leaf) {
	if !node.IsObject() && !node.IsArray() {
		*out = append(*out, Leaf{Path: prefix, Value: node})
		return
	}
	i := 0
	node.ForEach(func(key, value gjson.Result) bool {
		seg := key.String()
		if node.IsArray() {
			seg = strconv.Itoa(i)
		} else {
			seg = escapeKey(seg)
		}
		i++
		if prefix != "" {
			seg = prefix + "." + seg
		}
		walk(value, seg, out)
		return true
	})
}

// escapeKey escapes the characters gjson and sjson treat as path syntax.
func escapeKey(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch r {
		case '.', '*', '?', '|', '#', '@', '\\', '!', '=', '<', '>', '%':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
