package config

import "regexp"

// RegexCallout matches a code callout such as "// <<1>>" in highlighted, HTML-escaped code.
var RegexCallout = regexp.MustCompile(`//\s*&lt;&lt;(\d+)&gt;&gt;`)
