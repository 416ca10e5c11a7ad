package main

import (
	"fmt"
	"io"

	"eventdesk/internal/views"
)

func printList(w io.Writer, c views.ListContent) {
	if c.Heading != "" {
		fmt.Fprintln(w, c.Heading)
	}
	switch {
	case c.Prompt != "":
		fmt.Fprintln(w, c.Prompt)
	case c.Loading:
		fmt.Fprintln(w, "Loading...")
	case c.Error != nil:
		printBlock(w, c.Error)
	}
	for _, it := range c.Items {
		fmt.Fprintf(w, "- %s (%s)", it.Title, it.Date)
		if it.Location != "" {
			fmt.Fprintf(w, " @ %s", it.Location)
		}
		fmt.Fprintf(w, "  %s\n", it.Link)
	}
}

func printDetails(w io.Writer, c views.DetailsContent) {
	if c.Error != nil {
		printBlock(w, c.Error)
		return
	}
	if c.Event == nil {
		return
	}
	ev := c.Event
	fmt.Fprintln(w, ev.Title)
	fmt.Fprintf(w, "  %s %s @ %s\n", ev.Date, ev.Time, ev.Location)
	if ev.ImageURL != "" {
		fmt.Fprintf(w, "  image: %s\n", ev.ImageURL)
	}
	if ev.Description != "" {
		fmt.Fprintf(w, "\n%s\n", ev.Description)
	}
	printBlock(w, c.UpdateError)
}

func printBlock(w io.Writer, b *views.ErrorBlock) {
	if b == nil {
		return
	}
	fmt.Fprintf(w, "%s: %s\n", b.Title, b.Message)
}

func printTruncated(w io.Writer, uids []string) {
	for _, uid := range uids {
		fmt.Fprintf(w, "warning: occurrences of %s were truncated\n", uid)
	}
}
