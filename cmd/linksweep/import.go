package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"

	"github.com/nainya/linksweep/pkg/doctree"
)

// ErrMissingID is returned for imported documents without an _id
var ErrMissingID = errors.New("document has no _id")

func newImportCmd(a *app) *cobra.Command {
	var collection string

	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Load documents from a JSON array or JSON-lines file into the store",
		Long: `Upsert every document of FILE into --collection. FILE holds either a JSON
array of objects or one object per line. Each document needs an _id;
{"$oid": ...} ids are kept as object ids on MongoDB.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			docs, err := decodeDocuments(data)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}

			ctx := cmd.Context()
			b, err := a.openBackend(ctx, newMetrics())
			if err != nil {
				return err
			}
			defer b.Close()

			for i, doc := range docs {
				id, err := documentID(doc)
				if err != nil {
					return fmt.Errorf("document %d: %w", i, err)
				}
				if err := b.store.Put(ctx, collection, id, doc); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d documents into %s\n", len(docs), collection)
			return nil
		},
	}

	cmd.Flags().StringVar(&collection, "collection", "", "Target collection")
	cmd.MarkFlagRequired("collection")
	return cmd
}

// decodeDocuments accepts a JSON array of objects or JSON lines
func decodeDocuments(data []byte) ([]*doctree.Node, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}

	var raws [][]byte
	if trimmed[0] == '[' {
		if !gjson.ValidBytes(trimmed) {
			return nil, doctree.ErrInvalidJSON
		}
		gjson.ParseBytes(trimmed).ForEach(func(_, v gjson.Result) bool {
			raws = append(raws, []byte(v.Raw))
			return true
		})
	} else {
		for _, line := range bytes.Split(trimmed, []byte("\n")) {
			if line = bytes.TrimSpace(line); len(line) > 0 {
				raws = append(raws, line)
			}
		}
	}

	docs := make([]*doctree.Node, 0, len(raws))
	for i, raw := range raws {
		doc, err := doctree.Decode(raw)
		if err != nil {
			return nil, fmt.Errorf("document %d: %w", i, err)
		}
		if doc.Kind != doctree.KindObject {
			return nil, fmt.Errorf("document %d: not an object", i)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// documentID renders _id as the string form stores key documents by
func documentID(doc *doctree.Node) (string, error) {
	v, ok := doc.Get(doctree.IdentityField)
	if !ok {
		return "", ErrMissingID
	}
	switch v.Kind {
	case doctree.KindString:
		return v.Str, nil
	case doctree.KindNumber:
		return fmt.Sprint(v.Scalar), nil
	case doctree.KindOpaque:
		if raw, ok := v.Scalar.(json.RawMessage); ok && v.Tag == "objectId" {
			if oid := gjson.GetBytes(raw, "$oid").String(); oid != "" {
				return oid, nil
			}
		}
	}
	return "", fmt.Errorf("unsupported _id of kind %s", v.Kind)
}
