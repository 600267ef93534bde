package bitcoin

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/psbt"
)

type PSBTOutput struct {
	Address string
	Value   uint64
}

// PSBTSummary is what the signing stages check about a packet.
type PSBTSummary struct {
	Inputs     uint64
	Outputs    []*PSBTOutput
	Fee        uint64
	Signatures int
	Complete   bool
}

func DecodePSBT(b64 string) (*psbt.Packet, error) {
	pkt, err := psbt.NewFromRawBytes(bytes.NewReader([]byte(b64)), true)
	if err != nil {
		return nil, fmt.Errorf("psbt.NewFromRawBytes(%s) => %v", b64, err)
	}
	return pkt, nil
}

func SummarizePSBT(b64, network string) (*PSBTSummary, error) {
	pkt, err := DecodePSBT(b64)
	if err != nil {
		return nil, err
	}
	tx := pkt.UnsignedTx
	if len(pkt.Inputs) != len(tx.TxIn) {
		return nil, fmt.Errorf("bitcoin.SummarizePSBT() => %d inputs %d", len(pkt.Inputs), len(tx.TxIn))
	}

	s := &PSBTSummary{Complete: pkt.IsComplete()}
	for i, in := range pkt.Inputs {
		switch {
		case in.WitnessUtxo != nil:
			s.Inputs += uint64(in.WitnessUtxo.Value)
		case in.NonWitnessUtxo != nil:
			index := tx.TxIn[i].PreviousOutPoint.Index
			if int(index) >= len(in.NonWitnessUtxo.TxOut) {
				return nil, fmt.Errorf("bitcoin.SummarizePSBT() => input %d index %d", i, index)
			}
			s.Inputs += uint64(in.NonWitnessUtxo.TxOut[index].Value)
		default:
			return nil, fmt.Errorf("bitcoin.SummarizePSBT() => input %d without utxo", i)
		}
		s.Signatures += len(in.PartialSigs)
		if len(in.FinalScriptWitness) > 0 || len(in.FinalScriptSig) > 0 {
			s.Signatures += 1
		}
	}

	var outputs uint64
	for _, out := range tx.TxOut {
		if out.Value < 0 {
			return nil, fmt.Errorf("bitcoin.SummarizePSBT() => negative output %d", out.Value)
		}
		outputs += uint64(out.Value)
		s.Outputs = append(s.Outputs, &PSBTOutput{
			Address: ScriptAddress(out.PkScript, network),
			Value:   uint64(out.Value),
		})
	}
	if outputs > s.Inputs {
		return nil, fmt.Errorf("bitcoin.SummarizePSBT() => outputs %d inputs %d", outputs, s.Inputs)
	}
	s.Fee = s.Inputs - outputs
	return s, nil
}

// PaysTo returns the total value the packet sends to address.
func (s *PSBTSummary) PaysTo(address string) uint64 {
	var total uint64
	for _, o := range s.Outputs {
		if o.Address == address {
			total += o.Value
		}
	}
	return total
}
