// Package main checks that a revision of the chat API contract does not break
// clients of a base revision, and that every chat route is documented.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"marketplace/docs"
)

// embeddedSpec selects the contract compiled into the binary from docs.
const embeddedSpec = "embedded"

func main() {
	basePath := flag.String("base", "", "base OpenAPI swagger.yaml or swagger.json path")
	revisionPath := flag.String("revision", embeddedSpec, `revision contract path, or "embedded" for the generated docs`)
	requireChat := flag.Bool("require-chat", true, "fail when a chat route is missing from the revision")
	flag.Parse()

	revision, err := load(*revisionPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load revision spec: %v\n", err)
		os.Exit(1)
	}

	var issues []string
	if strings.TrimSpace(*basePath) != "" {
		base, err := load(*basePath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load base spec: %v\n", err)
			os.Exit(1)
		}
		issues = append(issues, compare(base, revision)...)
	}
	if *requireChat {
		issues = append(issues, missingRoutes(revision, chatRoutes)...)
	}

	if len(issues) > 0 {
		fmt.Fprintln(os.Stderr, "openapi contract check failed:")
		for _, issue := range issues {
			fmt.Fprintf(os.Stderr, "- %s\n", issue)
		}
		os.Exit(1)
	}

	fmt.Println("openapi contract check passed")
}

func load(path string) (parsedSpec, error) {
	if path == embeddedSpec {
		return parseSpec([]byte(docs.SwaggerInfo.ReadDoc()))
	}
	// #nosec G304: path comes from CLI flags in a dev tool
	raw, err := os.ReadFile(path)
	if err != nil {
		return parsedSpec{}, err
	}
	return parseSpec(raw)
}
