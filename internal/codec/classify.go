package codec

import (
	"bytes"
	"encoding/json"
	"strings"
)

// prefixes in match order. "$STS" must be tested before anything shorter.
var prefixes = []struct {
	prefix string
	dec    Decoder
}{
	{"$STS", STS},
	{"$DP", DP},
	{"$TM", TM},
	{"J", ZLIV},
}

// Classify devuelve el decoder que corresponde al texto (nil si ninguno) y el
// texto a decodificar. Cuando el texto venía en un sobre JSON, wrapped es true
// y tag es la etiqueta provisional tomada de la clave (puede ser "").
func Classify(text string) (dec Decoder, body, tag string, wrapped bool) {
	body = text
	if strings.HasPrefix(text, "{") {
		if v, k, ok := unwrapEnvelope(text); ok {
			body = v
			tag, _, _ = strings.Cut(k, "/")
			wrapped = true
		}
	}
	for _, p := range prefixes {
		if strings.HasPrefix(body, p.prefix) {
			return p.dec, body, tag, wrapped
		}
	}
	return nil, body, tag, wrapped
}

// unwrapEnvelope handles firmwares that wrap frames as {"tcp/ip":"$DP,..."}.
// It returns the first string value starting with '$' in document order and
// its key. Any parse problem just reports ok=false.
func unwrapEnvelope(text string) (value, key string, ok bool) {
	obj, found := envelopeObject(text)
	if !found || !json.Valid([]byte(obj)) {
		return "", "", false
	}

	dec := json.NewDecoder(strings.NewReader(obj))
	tok, err := dec.Token()
	if err != nil {
		return "", "", false
	}
	if d, isDelim := tok.(json.Delim); !isDelim || d != '{' {
		return "", "", false
	}
	for dec.More() {
		tok, err = dec.Token()
		if err != nil {
			return "", "", false
		}
		k, _ := tok.(string)

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return "", "", false
		}
		if len(raw) == 0 || raw[0] != '"' {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			continue
		}
		if strings.HasPrefix(s, "$") {
			return s, k, true
		}
	}
	return "", "", false
}

// envelopeObject returns the span from the first '{' to the last '}' on the
// same line.
func envelopeObject(text string) (string, bool) {
	b := []byte(text)
	start := bytes.IndexByte(b, '{')
	if start < 0 {
		return "", false
	}
	line := b[start:]
	if nl := bytes.IndexAny(line, "\r\n"); nl >= 0 {
		line = line[:nl]
	}
	end := bytes.LastIndexByte(line, '}')
	if end < 0 {
		return "", false
	}
	return string(line[:end+1]), true
}
