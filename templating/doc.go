// Package templating expands pull request titles and descriptions. It uses
// valyala/fasttemplate with configurable delimiters (default "{{" and "}}").
//
// The Engine type holds the delimiters and a set of static variables. Render
// merges per-call variables such as {{source}} and {{target}} over them. Load
// lets configuration point at a template file with an "@path" value.
package templating
