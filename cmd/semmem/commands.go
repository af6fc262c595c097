package main

import (
	"encoding/json"
	"io"

	"github.com/spf13/cobra"

	"github.com/becomeliminal/semantic-memory/memory"
	"github.com/becomeliminal/semantic-memory/memory/bootstrap"
)

type loader func(cmd *cobra.Command) (*bootstrap.Memory, error)

/*
withMemory opens the memory for one command run and closes it afterwards.
*/
func withMemory(load loader, run func(cmd *cobra.Command, m *bootstrap.Memory, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		m, err := load(cmd)
		if err != nil {
			return err
		}
		defer func() {
			if cerr := m.Close(); err == nil {
				err = cerr
			}
		}()
		return run(cmd, m, args)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newSaveCmd(load loader) *cobra.Command {
	var key, description, metadata string

	cmd := &cobra.Command{
		Use:   "save <collection> <text>",
		Short: "Embed and store a text",
		Args:  cobra.ExactArgs(2),
		RunE: withMemory(load, func(cmd *cobra.Command, m *bootstrap.Memory, args []string) error {
			k, err := m.SaveInformation(cmd.Context(), args[0], args[1], key,
				memory.WithDescription(description),
				memory.WithAdditionalMetadata(metadata))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]string{"key": k})
		}),
	}
	cmd.Flags().StringVar(&key, "key", "", "record key (generated when empty)")
	cmd.Flags().StringVar(&description, "description", "", "record description")
	cmd.Flags().StringVar(&metadata, "metadata", "", "additional metadata")
	return cmd
}

func newSaveRefCmd(load loader) *cobra.Command {
	var id, source, description, metadata string

	cmd := &cobra.Command{
		Use:   "save-ref <collection> <text>",
		Short: "Store a reference to externally held content",
		Args:  cobra.ExactArgs(2),
		RunE: withMemory(load, func(cmd *cobra.Command, m *bootstrap.Memory, args []string) error {
			k, err := m.SaveReference(cmd.Context(), args[0], args[1], id, source,
				memory.WithDescription(description),
				memory.WithAdditionalMetadata(metadata))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]string{"key": k})
		}),
	}
	cmd.Flags().StringVar(&id, "id", "", "external id (generated when empty)")
	cmd.Flags().StringVar(&source, "source", "", "external source name")
	cmd.Flags().StringVar(&description, "description", "", "record description")
	cmd.Flags().StringVar(&metadata, "metadata", "", "additional metadata")
	return cmd
}

func newGetCmd(load loader) *cobra.Command {
	var withEmbedding bool

	cmd := &cobra.Command{
		Use:   "get <collection> <key>",
		Short: "Fetch a record by key",
		Args:  cobra.ExactArgs(2),
		RunE: withMemory(load, func(cmd *cobra.Command, m *bootstrap.Memory, args []string) error {
			res, err := m.Get(cmd.Context(), args[0], args[1], withEmbedding)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		}),
	}
	cmd.Flags().BoolVar(&withEmbedding, "with-embedding", false, "include the stored vector")
	return cmd
}

func newRemoveCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <collection> <key>",
		Short: "Delete a record",
		Args:  cobra.ExactArgs(2),
		RunE: withMemory(load, func(cmd *cobra.Command, m *bootstrap.Memory, args []string) error {
			return m.Remove(cmd.Context(), args[0], args[1])
		}),
	}
}

func newSearchCmd(load loader) *cobra.Command {
	var (
		limit          int
		minRelevance   float64
		withEmbeddings bool
	)

	cmd := &cobra.Command{
		Use:   "search <collection> <query>",
		Short: "Find records similar to a query",
		Args:  cobra.ExactArgs(2),
		RunE: withMemory(load, func(cmd *cobra.Command, m *bootstrap.Memory, args []string) error {
			var opts []memory.SearchOption
			if cmd.Flags().Changed("limit") {
				opts = append(opts, memory.WithLimit(limit))
			}
			if cmd.Flags().Changed("min-relevance") {
				opts = append(opts, memory.WithMinRelevance(minRelevance))
			}
			opts = append(opts, memory.WithEmbeddings(withEmbeddings))

			results, err := memory.Collect(m.Search(cmd.Context(), args[0], args[1], opts...))
			if err != nil {
				return err
			}
			if results == nil {
				results = []*memory.MemoryQueryResult{}
			}
			return printJSON(cmd.OutOrStdout(), results)
		}),
	}
	cmd.Flags().IntVar(&limit, "limit", 1, "maximum number of results")
	cmd.Flags().Float64Var(&minRelevance, "min-relevance", 0.7, "minimum cosine similarity")
	cmd.Flags().BoolVar(&withEmbeddings, "with-embeddings", false, "include stored vectors")
	return cmd
}

func newCollectionsCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "collections",
		Short: "List collections",
		Args:  cobra.NoArgs,
		RunE: withMemory(load, func(cmd *cobra.Command, m *bootstrap.Memory, args []string) error {
			names, err := m.ListCollections(cmd.Context())
			if err != nil {
				return err
			}
			if names == nil {
				names = []string{}
			}
			return printJSON(cmd.OutOrStdout(), names)
		}),
	}
}

func newDropCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "drop <collection>",
		Short: "Delete a collection and its records",
		Args:  cobra.ExactArgs(1),
		RunE: withMemory(load, func(cmd *cobra.Command, m *bootstrap.Memory, args []string) error {
			return m.DropCollection(cmd.Context(), args[0])
		}),
	}
}
