package mcpserver

// NotebookFormatContract describes the notebook documents nbstore stores, for
// LLM consumers creating or editing notebooks.
const NotebookFormatContract = `# nbstore Notebook Format Contract

Notebooks are stored as JSON documents in nbformat 4 layout and addressed by a
slash-separated path such as ` + "`" + `reports/2025/q1.ipynb` + "`" + `.

## Structure

` + "```" + `json
{
  "cells": [
    {"cell_type": "markdown", "metadata": {}, "source": "# Title"},
    {"cell_type": "code", "metadata": {}, "execution_count": null,
     "outputs": [], "source": "print(1)"}
  ],
  "metadata": {},
  "nbformat": 4,
  "nbformat_minor": 0
}
` + "```" + `

## Rules

1. **The document is a JSON object.** Anything else is rejected.
2. **` + "`" + `cells` + "`" + ` is a list.** Each cell carries ` + "`" + `cell_type` + "`" + ` (markdown, code or raw),
   ` + "`" + `metadata` + "`" + ` and ` + "`" + `source` + "`" + `.
3. **` + "`" + `metadata.name` + "`" + ` is ignored.** The stored path is the name; an embedded name is blanked on save.
4. **Trust flags are transient.** ` + "`" + `metadata.trusted` + "`" + ` on code cells is computed on read and
   never stored. Notebooks saved through this interface are not signed, so their code cells read back untrusted.
5. **Paths** use forward slashes, have no leading slash, and notebooks end with ` + "`" + `.ipynb` + "`" + `.
6. **Checkpoints** are snapshots of a notebook. The first overwrite of a notebook without
   checkpoints takes one automatically; restore one with ` + "`" + `restore_checkpoint` + "`" + `.

## Tools

- ` + "`" + `list_contents` + "`" + ` lists a directory.
- ` + "`" + `read_notebook` + "`" + ` / ` + "`" + `save_notebook` + "`" + ` read and write a whole notebook.
- ` + "`" + `create_notebook` + "`" + ` creates an empty notebook, named Untitled<N>.ipynb unless a name is given.
- ` + "`" + `list_checkpoints` + "`" + `, ` + "`" + `create_checkpoint` + "`" + `, ` + "`" + `restore_checkpoint` + "`" + ` manage snapshots.
`
