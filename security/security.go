// Package security implements the decryption collaborator consumed by
// the object repository: the Standard security handler for RC4 (V1/V2),
// crypt-filter AES-128 (V4) and AES-256 (V5/V6) documents.
package security

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"crypto/rc4"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"errors"
	"fmt"

	"pdfcore/ir/raw"
	"pdfcore/pdferr"
)

type Permissions struct {
	Print, Modify, Copy, ModifyAnnotations,
	FillForms, ExtractAccessible, Assemble, PrintHighQuality bool
}

// DataClass identifies the kind of payload being encrypted or decrypted.
type DataClass int

const (
	DataClassStream DataClass = iota
	DataClassString
	DataClassMetadataStream
)

// Handler is the contract the repository calls. Implementations must
// not assume the caller authenticated before the first Decrypt.
type Handler interface {
	IsEncrypted() bool
	Authenticate(password string) error
	Decrypt(objNum, gen int, data []byte, class DataClass) ([]byte, error)
	Encrypt(objNum, gen int, data []byte, class DataClass) ([]byte, error)
	Permissions() Permissions
	EncryptMetadata() bool
}

type noEncryptionHandler struct{}

func (noEncryptionHandler) IsEncrypted() bool              { return false }
func (noEncryptionHandler) Authenticate(string) error      { return nil }
func (noEncryptionHandler) EncryptMetadata() bool          { return false }
func (noEncryptionHandler) Permissions() Permissions {
	return Permissions{Print: true, Modify: true, Copy: true, ModifyAnnotations: true,
		FillForms: true, ExtractAccessible: true, Assemble: true, PrintHighQuality: true}
}
func (noEncryptionHandler) Decrypt(_, _ int, data []byte, _ DataClass) ([]byte, error) {
	return data, nil
}
func (noEncryptionHandler) Encrypt(_, _ int, data []byte, _ DataClass) ([]byte, error) {
	return data, nil
}

// NoopHandler returns a pass-through handler for unencrypted documents.
func NoopHandler() Handler { return noEncryptionHandler{} }

type cryptAlgo int

const (
	algoNone cryptAlgo = iota
	algoRC4
	algoAESV2
	algoAESV3
)

type standardHandler struct {
	v, r       int
	keyLen     int // bytes
	oEntry     []byte
	uEntry     []byte
	oe, ue     []byte
	perms      []byte
	p          int32
	fileID     []byte
	encMeta    bool
	streamAlgo cryptAlgo
	stringAlgo cryptAlgo
	key        []byte
	authed     bool
}

// NewStandardHandler builds a handler from a parsed /Encrypt dictionary
// and the first element of the trailer /ID array.
func NewStandardHandler(encryptDict raw.Dictionary, fileID []byte) (Handler, error) {
	if encryptDict == nil {
		return NoopHandler(), nil
	}
	if f, ok := dictName(encryptDict, "Filter"); ok && f != "Standard" {
		return nil, fmt.Errorf("unsupported security filter %q", f)
	}
	v := int(dictIntDef(encryptDict, "V", 0))
	r := int(dictIntDef(encryptDict, "R", 2))
	keyBits := int(dictIntDef(encryptDict, "Length", 40))
	if v >= 5 {
		keyBits = 256
	}
	if keyBits%8 != 0 || keyBits < 40 || keyBits > 256 {
		return nil, errors.New("encryption key length out of range")
	}

	h := &standardHandler{
		v:       v,
		r:       r,
		keyLen:  keyBits / 8,
		p:       int32(dictIntDef(encryptDict, "P", -1)),
		fileID:  fileID,
		encMeta: true,
	}
	h.oEntry, _ = dictString(encryptDict, "O")
	h.uEntry, _ = dictString(encryptDict, "U")
	h.oe, _ = dictString(encryptDict, "OE")
	h.ue, _ = dictString(encryptDict, "UE")
	h.perms, _ = dictString(encryptDict, "Perms")
	if b, ok := dictBool(encryptDict, "EncryptMetadata"); ok {
		h.encMeta = b
	}

	switch v {
	case 1, 2:
		h.streamAlgo, h.stringAlgo = algoRC4, algoRC4
	case 4, 5:
		def := algoAESV2
		if v == 5 {
			def = algoAESV3
		}
		h.streamAlgo = cryptFilterAlgo(encryptDict, "StmF", def)
		h.stringAlgo = cryptFilterAlgo(encryptDict, "StrF", def)
	default:
		return nil, fmt.Errorf("unsupported encryption version V=%d", v)
	}
	return h, nil
}

func cryptFilterAlgo(dict raw.Dictionary, key string, def cryptAlgo) cryptAlgo {
	name, ok := dictName(dict, key)
	if !ok {
		return def
	}
	if name == "Identity" {
		return algoNone
	}
	cfObj, ok := dict.Get(raw.NameObj{Val: "CF"})
	if !ok {
		return def
	}
	cf, ok := cfObj.(raw.Dictionary)
	if !ok {
		return def
	}
	entryObj, ok := cf.Get(raw.NameObj{Val: name})
	if !ok {
		return def
	}
	entry, ok := entryObj.(raw.Dictionary)
	if !ok {
		return def
	}
	switch cfm, _ := dictName(entry, "CFM"); cfm {
	case "V2":
		return algoRC4
	case "AESV2":
		return algoAESV2
	case "AESV3":
		return algoAESV3
	case "None":
		return algoNone
	default:
		return def
	}
}

func (h *standardHandler) IsEncrypted() bool     { return true }
func (h *standardHandler) EncryptMetadata() bool { return h.encMeta }

func (h *standardHandler) Permissions() Permissions {
	return Permissions{
		Print:             h.p&0x4 != 0,
		Modify:            h.p&0x8 != 0,
		Copy:              h.p&0x10 != 0,
		ModifyAnnotations: h.p&0x20 != 0,
		FillForms:         h.p&0x100 != 0,
		ExtractAccessible: h.p&0x200 != 0,
		Assemble:          h.p&0x400 != 0,
		PrintHighQuality:  h.p&0x800 != 0,
	}
}

// Authenticate verifies the supplied password (user or owner) and
// derives the document key. Failure is reported as an authentication
// error so callers can re-prompt without reloading the document.
func (h *standardHandler) Authenticate(password string) error {
	if h.r >= 5 {
		if err := h.authenticateRev6([]byte(password)); err != nil {
			return err
		}
		h.authed = true
		return nil
	}
	// Try as user password first, then as owner password.
	if key, ok := h.tryUserPassword([]byte(password)); ok {
		h.key = key
		h.authed = true
		return nil
	}
	if key, ok := h.tryOwnerPassword([]byte(password)); ok {
		h.key = key
		h.authed = true
		return nil
	}
	return pdferr.New(pdferr.KindAuthentication, "password does not match user or owner password")
}

func (h *standardHandler) Decrypt(objNum, gen int, data []byte, class DataClass) ([]byte, error) {
	return h.crypt(objNum, gen, data, class, false)
}

func (h *standardHandler) Encrypt(objNum, gen int, data []byte, class DataClass) ([]byte, error) {
	return h.crypt(objNum, gen, data, class, true)
}

func (h *standardHandler) crypt(objNum, gen int, data []byte, class DataClass, encrypt bool) ([]byte, error) {
	if !h.authed {
		if err := h.Authenticate(""); err != nil {
			return nil, err
		}
	}
	if class == DataClassMetadataStream && !h.encMeta {
		return data, nil
	}
	algo := h.streamAlgo
	if class == DataClassString {
		algo = h.stringAlgo
	}
	if algo == algoNone || len(data) == 0 {
		return data, nil
	}
	key := h.objectKey(objNum, gen, algo)
	switch algo {
	case algoRC4:
		return rc4Crypt(key, data)
	case algoAESV2, algoAESV3:
		if encrypt {
			return aesCBCEncrypt(key, data)
		}
		return aesCBCDecrypt(key, data)
	}
	return data, nil
}

// objectKey derives the per-object key (Algorithm 1). AES-256 uses the
// file key directly (Algorithm 1.A).
func (h *standardHandler) objectKey(objNum, gen int, algo cryptAlgo) []byte {
	if algo == algoAESV3 {
		return h.key
	}
	buf := make([]byte, 0, len(h.key)+9)
	buf = append(buf, h.key...)
	buf = append(buf, byte(objNum), byte(objNum>>8), byte(objNum>>16))
	buf = append(buf, byte(gen), byte(gen>>8))
	if algo == algoAESV2 {
		buf = append(buf, 0x73, 0x41, 0x6C, 0x54) // "sAlT"
	}
	sum := md5.Sum(buf)
	n := len(h.key) + 5
	if n > 16 {
		n = 16
	}
	return sum[:n]
}

var passwordPadding = []byte{
	0x28, 0xBF, 0x4E, 0x5E, 0x4E, 0x75, 0x8A, 0x41,
	0x64, 0x00, 0x4E, 0x56, 0xFF, 0xFA, 0x01, 0x08,
	0x2E, 0x2E, 0x00, 0xB6, 0xD0, 0x68, 0x3E, 0x80,
	0x2F, 0x0C, 0xA9, 0xFE, 0x64, 0x53, 0x69, 0x7A,
}

func padPassword(pwd []byte) []byte {
	padded := make([]byte, 32)
	n := copy(padded, pwd)
	copy(padded[n:], passwordPadding)
	return padded
}

// deriveKey implements Algorithm 2: the file encryption key from a
// padded password and the O, P, ID entries.
func (h *standardHandler) deriveKey(password []byte) []byte {
	hash := md5.New()
	hash.Write(padPassword(password))
	hash.Write(h.oEntry)
	var pbuf [4]byte
	binary.LittleEndian.PutUint32(pbuf[:], uint32(h.p))
	hash.Write(pbuf[:])
	hash.Write(h.fileID)
	if h.r >= 4 && !h.encMeta {
		hash.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	}
	sum := hash.Sum(nil)
	if h.r >= 3 {
		for i := 0; i < 50; i++ {
			s := md5.Sum(sum[:h.keyLen])
			sum = s[:]
		}
	}
	return append([]byte(nil), sum[:h.keyLen]...)
}

// tryUserPassword implements Algorithms 4/5 (user password check).
func (h *standardHandler) tryUserPassword(password []byte) ([]byte, bool) {
	key := h.deriveKey(password)
	switch {
	case h.r == 2:
		enc, err := rc4Crypt(key, passwordPadding)
		if err != nil || !bytes.Equal(enc, h.uEntry) {
			return nil, false
		}
	default: // r == 3, 4
		hash := md5.New()
		hash.Write(passwordPadding)
		hash.Write(h.fileID)
		step := hash.Sum(nil)
		enc, err := rc4Crypt(key, step)
		if err != nil {
			return nil, false
		}
		for i := 1; i <= 19; i++ {
			iter := make([]byte, len(key))
			for k := range key {
				iter[k] = key[k] ^ byte(i)
			}
			enc, err = rc4Crypt(iter, enc)
			if err != nil {
				return nil, false
			}
		}
		if len(h.uEntry) < 16 || !bytes.Equal(enc[:16], h.uEntry[:16]) {
			return nil, false
		}
	}
	return key, true
}

// tryOwnerPassword implements Algorithm 7: recover the user password
// from the O entry, then run the user check with it.
func (h *standardHandler) tryOwnerPassword(password []byte) ([]byte, bool) {
	hash := md5.Sum(padPassword(password))
	sum := hash[:]
	if h.r >= 3 {
		for i := 0; i < 50; i++ {
			s := md5.Sum(sum)
			sum = s[:]
		}
	}
	rc4Key := sum[:h.keyLen]
	userPwd := append([]byte(nil), h.oEntry...)
	if h.r == 2 {
		dec, err := rc4Crypt(rc4Key, userPwd)
		if err != nil {
			return nil, false
		}
		userPwd = dec
	} else {
		for i := 19; i >= 0; i-- {
			iter := make([]byte, len(rc4Key))
			for k := range rc4Key {
				iter[k] = rc4Key[k] ^ byte(i)
			}
			dec, err := rc4Crypt(iter, userPwd)
			if err != nil {
				return nil, false
			}
			userPwd = dec
		}
	}
	return h.tryUserPassword(userPwd)
}

// authenticateRev6 implements Algorithms 2.A/8/9 for AES-256 documents.
func (h *standardHandler) authenticateRev6(password []byte) error {
	if len(password) > 127 {
		password = password[:127]
	}
	if len(h.uEntry) < 48 || len(h.oEntry) < 48 {
		return pdferr.New(pdferr.KindFormat, "AES-256 U/O entries truncated")
	}
	uHash, uValid, uKeySalt := h.uEntry[:32], h.uEntry[32:40], h.uEntry[40:48]
	oHash, oValid, oKeySalt := h.oEntry[:32], h.oEntry[32:40], h.oEntry[40:48]

	// User password check.
	if bytes.Equal(rev6Hash(password, uValid, nil), uHash) {
		ik := rev6Hash(password, uKeySalt, nil)
		key, err := aesCBCNoPad(ik, make([]byte, 16), h.ue, false)
		if err != nil {
			return err
		}
		h.key = key[:32]
		return nil
	}
	// Owner password check includes the full U entry.
	if bytes.Equal(rev6Hash(password, oValid, h.uEntry[:48]), oHash) {
		ik := rev6Hash(password, oKeySalt, h.uEntry[:48])
		key, err := aesCBCNoPad(ik, make([]byte, 16), h.oe, false)
		if err != nil {
			return err
		}
		h.key = key[:32]
		return nil
	}
	return pdferr.New(pdferr.KindAuthentication, "password does not match user or owner password")
}

// rev6Hash is the hardened hash of ISO 32000-2 Algorithm 2.B.
func rev6Hash(password, salt, userData []byte) []byte {
	input := append(append(append([]byte{}, password...), salt...), userData...)
	sum := sha256.Sum256(input)
	k := sum[:]
	for round := 0; ; round++ {
		k1 := make([]byte, 0, 64*(len(password)+len(k)+len(userData)))
		for i := 0; i < 64; i++ {
			k1 = append(k1, password...)
			k1 = append(k1, k...)
			k1 = append(k1, userData...)
		}
		e, err := aesCBCNoPad(k[:16], k[16:32], k1, true)
		if err != nil {
			return k
		}
		mod := 0
		for _, b := range e[:16] {
			mod += int(b)
		}
		switch mod % 3 {
		case 0:
			s := sha256.Sum256(e)
			k = s[:]
		case 1:
			s := sha512.Sum384(e)
			k = s[:]
		case 2:
			s := sha512.Sum512(e)
			k = s[:]
		}
		if round >= 63 && int(e[len(e)-1]) <= round-32 {
			break
		}
	}
	return k[:32]
}

func rc4Crypt(key, data []byte) ([]byte, error) {
	c, err := rc4.NewCipher(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(data))
	c.XORKeyStream(out, data)
	return out, nil
}

func aesCBCDecrypt(key, data []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(data) < aes.BlockSize || len(data)%aes.BlockSize != 0 {
		return nil, errors.New("AES payload not block aligned")
	}
	iv, body := data[:aes.BlockSize], data[aes.BlockSize:]
	out := make([]byte, len(body))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, body)
	if len(out) == 0 {
		return out, nil
	}
	// strip PKCS#7 padding
	pad := int(out[len(out)-1])
	if pad < 1 || pad > aes.BlockSize || pad > len(out) {
		return nil, errors.New("bad AES padding")
	}
	return out[:len(out)-pad], nil
}

func aesCBCEncrypt(key, data []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	pad := aes.BlockSize - len(data)%aes.BlockSize
	padded := make([]byte, len(data)+pad)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(pad)
	}
	out := make([]byte, aes.BlockSize+len(padded))
	iv := out[:aes.BlockSize]
	for i := range iv {
		iv[i] = byte(i*7 + 13) // deterministic IV keeps writes reproducible
	}
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[aes.BlockSize:], padded)
	return out, nil
}

func aesCBCNoPad(key, iv, data []byte, encrypt bool) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(data)%aes.BlockSize != 0 {
		return nil, errors.New("AES payload not block aligned")
	}
	out := make([]byte, len(data))
	if encrypt {
		cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, data)
	} else {
		cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, data)
	}
	return out, nil
}

func dictIntDef(d raw.Dictionary, key string, def int64) int64 {
	if v, ok := d.Get(raw.NameObj{Val: key}); ok {
		if n, ok := v.(raw.Number); ok {
			return n.Int()
		}
	}
	return def
}

func dictName(d raw.Dictionary, key string) (string, bool) {
	if v, ok := d.Get(raw.NameObj{Val: key}); ok {
		if n, ok := v.(raw.Name); ok {
			return n.Value(), true
		}
	}
	return "", false
}

func dictString(d raw.Dictionary, key string) ([]byte, bool) {
	if v, ok := d.Get(raw.NameObj{Val: key}); ok {
		if s, ok := v.(raw.String); ok {
			return s.Value(), true
		}
	}
	return nil, false
}

func dictBool(d raw.Dictionary, key string) (bool, bool) {
	if v, ok := d.Get(raw.NameObj{Val: key}); ok {
		if b, ok := v.(raw.Boolean); ok {
			return b.Value(), true
		}
	}
	return false, false
}
