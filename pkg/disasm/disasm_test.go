package disasm

import (
	"testing"

	"github.com/tracepoint-dev/bsdcore/pkg/dbgcore"
)

func TestDecodeRet(t *testing.T) {
	// c3 = ret
	inst, err := Decode([]byte{0xc3}, 0x1000)
	if err != nil {
		t.Fatal(err)
	}
	if inst.Class != ClassReturn || inst.Length != 1 {
		t.Fatalf("got %+v", inst)
	}
}

func TestDecodeCallRel32(t *testing.T) {
	// e8 rel32: call to addr+len+rel32
	inst, err := Decode([]byte{0xe8, 0x05, 0x00, 0x00, 0x00, 0x90}, 0x1000)
	if err != nil {
		t.Fatal(err)
	}
	if inst.Class != ClassCall || inst.Length != 5 {
		t.Fatalf("got %+v", inst)
	}
	want := dbgcore.Address(0x1000 + 5 + 5)
	if len(inst.DirectTargets) != 1 || inst.DirectTargets[0] != want {
		t.Fatalf("targets = %v, want [%#x]", inst.DirectTargets, want)
	}
}

func TestDecodeInvalid(t *testing.T) {
	_, err := Decode([]byte{0x0f, 0xff}, 0x1000)
	if err == nil {
		t.Fatal("expected decode error")
	}
	if _, ok := err.(*dbgcore.DisassemblyFailedError); !ok {
		t.Fatalf("got %T", err)
	}
}

func TestDecodeHalt(t *testing.T) {
	inst, err := Decode([]byte{0xf4}, 0x2000)
	if err != nil {
		t.Fatal(err)
	}
	if inst.Class != ClassHalt {
		t.Fatalf("got %+v", inst)
	}
}
