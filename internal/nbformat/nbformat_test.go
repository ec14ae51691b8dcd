package nbformat

import (
	"context"
	"reflect"
	"strings"
	"testing"
)

func mustRead(t *testing.T, s string) Notebook {
	t.Helper()
	nb, err := Read([]byte(s))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	return nb
}

func TestReadRejectsNonObject(t *testing.T) {
	for _, in := range []string{"", "[]", `"nb"`, "42"} {
		if _, err := Read([]byte(in)); err == nil {
			t.Errorf("Read(%q) should fail", in)
		}
	}
	if _, err := Read([]byte("{broken")); err == nil {
		t.Error("Read of malformed JSON should fail")
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	nb := mustRead(t, `{"cells":["x", {"cell_type":"markdown","source":"hi"}],"metadata":{"kernel":"go"}}`)
	data, err := Write(nb)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	got := mustRead(t, string(data))
	if !reflect.DeepEqual(got, nb) {
		t.Errorf("round trip mismatch:\n got %v\nwant %v", got, nb)
	}
}

func TestWriteStripsTrustFlags(t *testing.T) {
	nb := mustRead(t, `{"cells":[{"cell_type":"code","metadata":{"trusted":true,"tags":[]}}]}`)
	data, err := Write(nb)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if strings.Contains(string(data), "trusted") {
		t.Errorf("transient flag written: %s", data)
	}
	meta := nb["cells"].([]any)[0].(map[string]any)["metadata"].(map[string]any)
	if meta["trusted"] != true {
		t.Error("Write must not modify its argument")
	}
}

func TestNewNotebook(t *testing.T) {
	nb := New()
	if nb["nbformat"] != float64(Major) {
		t.Errorf("nbformat = %v", nb["nbformat"])
	}
	if cells, ok := nb["cells"].([]any); !ok || len(cells) != 0 {
		t.Errorf("cells = %v", nb["cells"])
	}
}

func TestClearName(t *testing.T) {
	nb := mustRead(t, `{"metadata":{"name":"old"}}`)
	ClearName(nb)
	if nb.Metadata()["name"] != "" {
		t.Errorf("name = %v", nb.Metadata()["name"])
	}

	bare := mustRead(t, `{"cells":[]}`)
	ClearName(bare)
	if _, ok := bare["metadata"]; ok {
		t.Error("ClearName must not add metadata")
	}
}

func TestCheckCells(t *testing.T) {
	cases := map[string]bool{
		`{"cells":[]}`: true,
		`{"cells":["x",{"cell_type":"markdown"}]}`:                                      true,
		`{"cells":[{"cell_type":"code","metadata":{"trusted":true}}]}`:                  true,
		`{"cells":[{"cell_type":"code","metadata":{}}]}`:                                false,
		`{"cells":[{"cell_type":"code"}]}`:                                              false,
		`{"cells":[{"cell_type":"code","metadata":{"trusted":true}},{"cell_type":"code","metadata":{"trusted":false}}]}`: false,
	}
	for in, want := range cases {
		if got := CheckCells(mustRead(t, in)); got != want {
			t.Errorf("CheckCells(%s) = %v, want %v", in, got, want)
		}
	}
}

func TestNotarySignAndCheck(t *testing.T) {
	ctx := context.Background()
	n, err := NewNotary([]byte("secret"), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	nb := mustRead(t, `{"cells":[{"cell_type":"code","metadata":{"trusted":true},"outputs":[]}]}`)

	n.CheckAndSign(ctx, nb, "a.ipynb")

	// A fresh copy read back from storage has no trust flags.
	data, _ := Write(nb)
	stored := mustRead(t, string(data))
	n.MarkTrustedCells(ctx, stored, "a.ipynb")
	if !CheckCells(stored) {
		t.Error("signed notebook should be trusted on read")
	}

	other := mustRead(t, `{"cells":[{"cell_type":"code","metadata":{},"outputs":["evil"]}]}`)
	n.MarkTrustedCells(ctx, other, "b.ipynb")
	if CheckCells(other) {
		t.Error("unsigned notebook must not be trusted")
	}
}

func TestNotaryUntrustedNotSigned(t *testing.T) {
	ctx := context.Background()
	sigs := NewMemorySignatures()
	n, err := NewNotary([]byte("secret"), sigs, nil)
	if err != nil {
		t.Fatal(err)
	}
	nb := mustRead(t, `{"cells":[{"cell_type":"code","metadata":{"trusted":false}}]}`)
	n.CheckAndSign(ctx, nb, "a.ipynb")
	ok, err := n.Check(ctx, nb)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("untrusted notebook was signed")
	}
}

func TestNotarySecretMatters(t *testing.T) {
	nb := mustRead(t, `{"cells":[]}`)
	a, _ := NewNotary([]byte("a"), nil, nil)
	b, _ := NewNotary([]byte("b"), nil, nil)
	sa, _ := a.Compute(nb)
	sb, _ := b.Compute(nb)
	if sa == sb {
		t.Error("different secrets produced the same signature")
	}
	if !strings.HasPrefix(sa, "sha256:") {
		t.Errorf("signature = %q", sa)
	}
}
