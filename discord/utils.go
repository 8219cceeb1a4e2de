package discord

import (
	"fmt"
)

func GetNamedLink(text string, url string) string {
	return fmt.Sprintf("[%s](%s)", text, url)
}
