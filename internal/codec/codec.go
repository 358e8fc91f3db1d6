// Package codec decodes the comma separated text frames sent by the STS, DP,
// TM and ZLIV tracker firmwares into a Record.
package codec

// Decode classifies text and runs the matching decoder. It never fails: an
// unrecognized frame yields a record holding only the protocol tag and the
// raw text. A decoder only stamps its own protocol once the frame carries
// enough fields to be decoded.
func Decode(text string) *Record {
	rec := &Record{Protocol: ProtocolUnknown, RawData: text}

	dec, body, tag, wrapped := Classify(text)
	if wrapped {
		rec.Protocol = tag
	}
	if dec != nil {
		dec.Decode(body, rec)
	}
	return rec
}
