// Copyright 2024 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Erigon is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Erigon. If not, see <http://www.gnu.org/licenses/>.

package controller_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sunjudev0213/materialize-sub000/controller"
)

func TestCommandVariantsImplementCommand(t *testing.T) {
	var cmds []controller.Command
	cmds = append(cmds,
		controller.Execute{Session: "s1", Plan: []byte("select 1")},
		controller.Cancel{ConnId: "c1", SecretKey: "k"},
		controller.Terminate{ConnId: "c1"},
	)
	require.Len(t, cmds, 3)
}

func TestExecuteDeliversResponseOnTx(t *testing.T) {
	tx := make(chan controller.Response, 1)
	cmd := controller.Execute{Session: "s1", Plan: []byte("select 1"), ResponseTx: tx}

	cmd.ResponseTx <- controller.Response{Rows: []controller.Row{{Key: []byte("a"), Diff: 1}}}
	resp := <-tx
	require.NoError(t, resp.Err)
	require.Len(t, resp.Rows, 1)
}
