package security

import (
	"bytes"
	"crypto/md5"
	"crypto/rc4"
	"testing"

	"pdfcore/ir/raw"
	"pdfcore/pdferr"
)

// buildRev3Entries computes the O and U entries for an RC4 revision 3
// document, so the handler can be exercised against a self-consistent
// dictionary.
func buildRev3Entries(userPwd, ownerPwd string, p int32, fileID []byte, keyLen int) (o, u []byte) {
	// O entry: RC4 of the padded user password under a key derived from
	// the owner password.
	hash := md5.Sum(padPassword([]byte(ownerPwd)))
	sum := hash[:]
	for i := 0; i < 50; i++ {
		s := md5.Sum(sum)
		sum = s[:]
	}
	rc4Key := sum[:keyLen]
	o = padPassword([]byte(userPwd))
	for i := 0; i <= 19; i++ {
		iter := make([]byte, len(rc4Key))
		for k := range rc4Key {
			iter[k] = rc4Key[k] ^ byte(i)
		}
		c, _ := rc4.NewCipher(iter)
		out := make([]byte, len(o))
		c.XORKeyStream(out, o)
		o = out
	}

	// U entry needs the file key, which depends on O.
	h := &standardHandler{r: 3, keyLen: keyLen, oEntry: o, p: p, fileID: fileID, encMeta: true}
	key := h.deriveKey([]byte(userPwd))
	step := md5.New()
	step.Write(passwordPadding)
	step.Write(fileID)
	u = step.Sum(nil)
	c, _ := rc4.NewCipher(key)
	enc := make([]byte, len(u))
	c.XORKeyStream(enc, u)
	u = enc
	for i := 1; i <= 19; i++ {
		iter := make([]byte, len(key))
		for k := range key {
			iter[k] = key[k] ^ byte(i)
		}
		c, _ := rc4.NewCipher(iter)
		out := make([]byte, len(u))
		c.XORKeyStream(out, u)
		u = out
	}
	return o, u
}

func rev3Dict(o, u []byte, p int32) raw.Dictionary {
	d := raw.Dict()
	d.Set(raw.NameObj{Val: "Filter"}, raw.NameLiteral("Standard"))
	d.Set(raw.NameObj{Val: "V"}, raw.NumberInt(2))
	d.Set(raw.NameObj{Val: "R"}, raw.NumberInt(3))
	d.Set(raw.NameObj{Val: "Length"}, raw.NumberInt(128))
	d.Set(raw.NameObj{Val: "P"}, raw.NumberInt(int64(p)))
	d.Set(raw.NameObj{Val: "O"}, raw.StringObj{Bytes: o})
	d.Set(raw.NameObj{Val: "U"}, raw.StringObj{Bytes: u})
	return d
}

func TestAuthenticateUserAndOwner(t *testing.T) {
	fileID := []byte("0123456789abcdef")
	perms := int32(-44)
	o, u := buildRev3Entries("user-secret", "owner-secret", perms, fileID, 16)

	h, err := NewStandardHandler(rev3Dict(o, u, perms), fileID)
	if err != nil {
		t.Fatal(err)
	}
	if !h.IsEncrypted() {
		t.Fatal("standard handler must report encryption")
	}
	if err := h.Authenticate("user-secret"); err != nil {
		t.Fatalf("user password rejected: %v", err)
	}

	h2, _ := NewStandardHandler(rev3Dict(o, u, perms), fileID)
	if err := h2.Authenticate("owner-secret"); err != nil {
		t.Fatalf("owner password rejected: %v", err)
	}

	h3, _ := NewStandardHandler(rev3Dict(o, u, perms), fileID)
	err = h3.Authenticate("wrong")
	if err == nil {
		t.Fatal("wrong password accepted")
	}
	if k, ok := pdferr.KindOf(err); !ok || k != pdferr.KindAuthentication {
		t.Fatalf("wrong password error kind = %v", err)
	}
}

func TestDecryptRoundTrip(t *testing.T) {
	fileID := []byte("0123456789abcdef")
	o, u := buildRev3Entries("", "owner", -1, fileID, 16)
	h, err := NewStandardHandler(rev3Dict(o, u, -1), fileID)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.Authenticate(""); err != nil {
		t.Fatal(err)
	}
	plain := []byte("indirect object payload")
	enc, err := h.Encrypt(7, 0, plain, DataClassStream)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(enc, plain) {
		t.Fatal("payload unchanged by encryption")
	}
	got, err := h.Decrypt(7, 0, enc, DataClassStream)
	if err != nil || !bytes.Equal(got, plain) {
		t.Fatalf("round trip: %q, %v", got, err)
	}
	// A different handle yields a different object key.
	other, _ := h.Decrypt(8, 0, enc, DataClassStream)
	if bytes.Equal(other, plain) {
		t.Fatal("object key does not depend on the handle")
	}
}

func TestAESRoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, 16)
	plain := []byte("block cipher payload longer than one block")
	enc, err := aesCBCEncrypt(key, plain)
	if err != nil {
		t.Fatal(err)
	}
	got, err := aesCBCDecrypt(key, enc)
	if err != nil || !bytes.Equal(got, plain) {
		t.Fatalf("got %q, %v", got, err)
	}
	if _, err := aesCBCDecrypt(key, enc[:len(enc)-3]); err == nil {
		t.Fatal("misaligned payload must fail")
	}
}

func TestRev6HashDeterministic(t *testing.T) {
	a := rev6Hash([]byte("pw"), []byte("saltsalt"), nil)
	b := rev6Hash([]byte("pw"), []byte("saltsalt"), nil)
	if !bytes.Equal(a, b) {
		t.Fatal("hash not deterministic")
	}
	if len(a) != 32 {
		t.Fatalf("hash length = %d", len(a))
	}
	c := rev6Hash([]byte("pw2"), []byte("saltsalt"), nil)
	if bytes.Equal(a, c) {
		t.Fatal("different passwords collide")
	}
}

func TestPermissionsBits(t *testing.T) {
	h := &standardHandler{p: 0x4 | 0x10 | 0x800}
	perms := h.Permissions()
	if !perms.Print || !perms.Copy || !perms.PrintHighQuality {
		t.Fatalf("bits not decoded: %+v", perms)
	}
	if perms.Modify || perms.FillForms {
		t.Fatalf("unset bits decoded: %+v", perms)
	}
}

func TestMetadataPassThrough(t *testing.T) {
	h := &standardHandler{authed: true, encMeta: false, streamAlgo: algoRC4, key: []byte("0123456789abcdef")}
	data := []byte("xmp metadata")
	got, err := h.Decrypt(3, 0, data, DataClassMetadataStream)
	if err != nil || !bytes.Equal(got, data) {
		t.Fatalf("metadata must pass through: %q, %v", got, err)
	}
}

func TestNoopHandler(t *testing.T) {
	h := NoopHandler()
	if h.IsEncrypted() {
		t.Fatal("noop handler reports encryption")
	}
	data := []byte("plain")
	got, err := h.Decrypt(1, 0, data, DataClassString)
	if err != nil || !bytes.Equal(got, data) {
		t.Fatal("noop handler must pass data through")
	}
	if !h.Permissions().Print {
		t.Fatal("noop handler must grant everything")
	}
}

func TestPadPassword(t *testing.T) {
	if got := padPassword(nil); !bytes.Equal(got, passwordPadding) {
		t.Fatal("empty password must pad to the full padding constant")
	}
	long := bytes.Repeat([]byte{'x'}, 40)
	if got := padPassword(long); len(got) != 32 || !bytes.Equal(got, long[:32]) {
		t.Fatal("long password must truncate to 32 bytes")
	}
}
