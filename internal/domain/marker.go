package domain

import "regexp"

// Inline image markers are the wire contract between message normalization and
// context reconstruction. A stored turn references its images as
// "[IMG:<filename>]" tokens embedded in the message text, where <filename> is
// the name of a file in the media store (no path separators, no brackets).
// The scanner accepts any non-"]" run; filenames are validated again when the
// media store resolves them.
var imageMarkerPattern = regexp.MustCompile(`\[IMG:([^\]]+)\]`)

// ImageMarker builds the inline marker for a stored image file.
func ImageMarker(filename string) string {
	return "[IMG:" + filename + "]"
}

// ExtractImageMarkers returns the filenames of all inline markers in text, in
// order of appearance.
func ExtractImageMarkers(text string) []string {
	matches := imageMarkerPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	names := make([]string, len(matches))
	for i, m := range matches {
		names[i] = m[1]
	}
	return names
}

// StripImageMarkers removes all inline markers from text, leaving the
// surrounding free text untouched.
func StripImageMarkers(text string) string {
	return imageMarkerPattern.ReplaceAllString(text, "")
}
